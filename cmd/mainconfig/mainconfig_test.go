package mainconfig

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/loan-sales-assistant/internal/config"
)

func TestEndpointResolverOnlyRedirectsLocalServices(t *testing.T) {
	r := endpointResolver("http://localhost:4566", "us-east-1")

	for _, svc := range []string{dynamodb.ServiceID, s3.ServiceID} {
		ep, err := r.ResolveEndpoint(svc, "us-east-1")
		require.NoError(t, err, svc)
		assert.Equal(t, "http://localhost:4566", ep.URL)
		assert.Equal(t, "us-east-1", ep.SigningRegion)
	}

	_, err := r.ResolveEndpoint(bedrockruntime.ServiceID, "us-east-1")
	var notFound *aws.EndpointNotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestLoadAWSConfigStaticCredentials(t *testing.T) {
	cfg := &appconfig.Config{
		AWSRegion:           "us-west-2",
		AWSAccessKeyID:      "AKID",
		AWSSecretAccessKey:  "secret",
		AWSEndpointOverride: "http://localhost:4566",
	}
	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "us-west-2", awsCfg.Region)
	assert.NotNil(t, awsCfg.EndpointResolverWithOptions)

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKID", creds.AccessKeyID)

	assert.Nil(t, staticCredentials(&appconfig.Config{AWSAccessKeyID: "AKID"}))
}
