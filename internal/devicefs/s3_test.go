package devicefs

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/mock/gomock"
)

func TestS3CreateFileWritesUnderPrefix(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockS3API(ctrl)
	fsys := NewS3(context.Background(), client, "tb-collected", "/loader-000c/")

	client.EXPECT().
		PutObject(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			if aws.ToString(in.Bucket) != "tb-collected" {
				t.Fatalf("unexpected bucket %q", aws.ToString(in.Bucket))
			}
			if aws.ToString(in.Key) != "loader-000c/DEMO/OperationalData/000C/tbData/a.csv" {
				t.Fatalf("unexpected key %q", aws.ToString(in.Key))
			}
			body, _ := io.ReadAll(in.Body)
			if string(body) != "row" {
				t.Fatalf("unexpected body %q", body)
			}
			return &s3.PutObjectOutput{}, nil
		})

	n, err := fsys.CreateFile("DEMO/OperationalData/000C/tbData/a.csv", strings.NewReader("row"), true)
	if err != nil || n != 3 {
		t.Fatalf("CreateFile = %d, %v", n, err)
	}
	if fsys.Root() != "s3://tb-collected/loader-000c" {
		t.Fatalf("unexpected root %q", fsys.Root())
	}
}

func TestS3ListSplitsDirsAndFiles(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockS3API(ctrl)
	fsys := NewS3(context.Background(), client, "bucket", "")

	client.EXPECT().
		ListObjectsV2(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
			if aws.ToString(in.Prefix) != "DEMO/" || aws.ToString(in.Delimiter) != "/" {
				t.Fatalf("unexpected list input prefix=%q delim=%q", aws.ToString(in.Prefix), aws.ToString(in.Delimiter))
			}
			return &s3.ListObjectsV2Output{
				CommonPrefixes: []types.CommonPrefix{{Prefix: aws.String("DEMO/OperationalData/")}},
				Contents: []types.Object{
					{Key: aws.String("DEMO/"), Size: aws.Int64(0)},
					{Key: aws.String("DEMO/tbsdeployed.csv"), Size: aws.Int64(42)},
				},
				IsTruncated: aws.Bool(false),
			}, nil
		})

	entries, err := fsys.List("DEMO")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %+v", entries)
	}
	if !entries[0].IsDir || entries[0].Name != "OperationalData" {
		t.Fatalf("unexpected dir entry %+v", entries[0])
	}
	if entries[1].IsDir || entries[1].Path != "DEMO/tbsdeployed.csv" || entries[1].Size != 42 {
		t.Fatalf("unexpected file entry %+v", entries[1])
	}
}

func TestS3OpenMissingIsNotExist(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockS3API(ctrl)
	fsys := NewS3(context.Background(), client, "bucket", "p")

	client.EXPECT().GetObject(gomock.Any(), gomock.Any()).Return(nil, &types.NoSuchKey{})

	_, err := fsys.Open("nope.txt")
	if !IsNotExist(err) {
		t.Fatalf("expected not-exist, got %v", err)
	}
}

func TestS3AppendConcatenates(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockS3API(ctrl)
	fsys := NewS3(context.Background(), client, "bucket", "")

	client.EXPECT().HeadObject(gomock.Any(), gomock.Any()).Return(&s3.HeadObjectOutput{ContentLength: aws.Int64(4)}, nil)
	client.EXPECT().GetObject(gomock.Any(), gomock.Any()).Return(&s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("old\n"))}, nil)
	client.EXPECT().
		PutObject(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
			body, _ := io.ReadAll(in.Body)
			if string(body) != "old\nnew\n" {
				t.Fatalf("unexpected appended body %q", body)
			}
			return &s3.PutObjectOutput{}, nil
		})

	if _, err := fsys.Append("deployments.log", strings.NewReader("new\n")); err != nil {
		t.Fatalf("Append: %v", err)
	}
}
