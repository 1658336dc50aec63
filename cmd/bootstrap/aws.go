package bootstrap

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/cockroachdb/errors"
	"go.uber.org/fx"
	"philcali.me/notify/internal/config"
)

// AWSModule builds one SDK config per process and the clients derived from it.
var AWSModule = fx.Module("aws",
	fx.Provide(
		NewAWSConfig,
		NewSNSClient,
		NewDynamoDBClient,
	),
)

func NewAWSConfig(cfg config.Config) (aws.Config, error) {
	options := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.AWS.Region),
	}
	if cfg.AWS.Endpoint != "" {
		options = append(options, awsConfig.WithEndpointResolverWithOptions(aws.EndpointResolverWithOptionsFunc(
			func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{URL: cfg.AWS.Endpoint, SigningRegion: region}, nil
			})))
	}
	awsCfg, err := awsConfig.LoadDefaultConfig(context.TODO(), options...)
	if err != nil {
		return aws.Config{}, errors.Wrap(err, "failed to load AWS config")
	}
	return awsCfg, nil
}

func NewSNSClient(cfg aws.Config) *sns.Client {
	return sns.NewFromConfig(cfg)
}

func NewDynamoDBClient(cfg aws.Config) *dynamodb.Client {
	return dynamodb.NewFromConfig(cfg)
}
