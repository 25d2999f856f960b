package dynamosink

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"tbloader/internal/oplog"
)

func TestPublishPutsProjection(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockPutItemAPI(ctrl)
	sink, err := New(client, "tbs-operations")
	require.NoError(t, err)
	sink.NewID = func() string { return "rec-1" }

	row := oplog.Project(oplog.KindDeployed, oplog.NewPayload().
		Put("sn", "B-000C0200").
		Put("coordinates", "12.34,-56.78"))

	client.EXPECT().PutItem(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
			assert.Equal(t, "tbs-operations", *in.TableName)
			assert.Equal(t, &types.AttributeValueMemberS{Value: "B-000C0200"}, in.Item["talkingbookid"])
			assert.Equal(t, &types.AttributeValueMemberS{Value: "12.34"}, in.Item["latitude"])
			assert.Equal(t, &types.AttributeValueMemberS{Value: "deployed"}, in.Item["record_kind"])
			assert.Equal(t, &types.AttributeValueMemberS{Value: "rec-1"}, in.Item["record_id"])
			return &dynamodb.PutItemOutput{}, nil
		})

	require.NoError(t, sink.Publish(context.Background(), row))
}

func TestPublishWrapsClientError(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := NewMockPutItemAPI(ctrl)
	sink, err := New(client, "tbs-operations")
	require.NoError(t, err)

	boom := errors.New("ProvisionedThroughputExceededException")
	client.EXPECT().PutItem(gomock.Any(), gomock.Any()).Return(nil, boom)

	err = sink.Publish(context.Background(), oplog.Project(oplog.KindCollected, oplog.NewPayload()))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "collected")
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, "table")
	assert.Error(t, err)
	_, err = New(NewMockPutItemAPI(gomock.NewController(t)), " ")
	assert.Error(t, err)
}
