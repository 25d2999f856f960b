package identity

import "strings"

// Descriptor summarizes a deployment as carried by a device: either what
// it reports now or what is about to be written to it.
type Descriptor struct {
	SerialNumber     string
	NewSerial        bool
	Project          string
	Deployment       string
	Packages         []string
	Firmware         string
	Community        string
	RecipientID      string
	DeploymentUUID   string
	UpdateTimestamp  string
	SynchDir         string
	TestDeployment   bool
	DeploymentNumber int
}

// PackageList joins the package names with commas.
func (d Descriptor) PackageList() string {
	return strings.Join(d.Packages, ",")
}

// Descriptor returns what the device reports about its current deployment.
func (d DeviceIdentity) Descriptor() Descriptor {
	return Descriptor{
		SerialNumber:    d.SerialNumber,
		NewSerial:       d.NeedsNewSerial,
		Project:         d.Project,
		Deployment:      d.Deployment,
		Packages:        append([]string(nil), d.Packages...),
		Firmware:        d.Firmware,
		Community:       d.Community,
		RecipientID:     d.RecipientID,
		DeploymentUUID:  d.DeploymentUUID,
		UpdateTimestamp: d.LastUpdated,
		SynchDir:        d.SynchDir,
		TestDeployment:  d.TestDeployment,
	}
}
