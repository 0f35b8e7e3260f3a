// Package ec2 manages capture instances on AWS EC2.
package ec2

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/JakeFAU/webarchiver/internal/compute"
)

// API is the subset of the EC2 client the manager uses.
type API interface {
	RunInstances(ctx context.Context, in *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	TerminateInstances(
		ctx context.Context, in *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options),
	) (*ec2.TerminateInstancesOutput, error)
	DescribeInstances(
		ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options),
	) (*ec2.DescribeInstancesOutput, error)
}

// Config selects the AWS profile and region.
type Config struct {
	Region  string
	Profile string
}

// Manager creates, terminates and locates instances.
type Manager struct {
	client API
}

// New wraps an existing client.
func New(client API) *Manager {
	return &Manager{client: client}
}

// NewFromConfig loads shared AWS configuration and builds an EC2 client.
func NewFromConfig(ctx context.Context, cfg Config) (*Manager, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return New(ec2.NewFromConfig(awsCfg)), nil
}

// Create launches exactly spec.Count instances and returns their ids.
func (m *Manager) Create(ctx context.Context, spec compute.Spec) ([]string, error) {
	if spec.Count <= 0 {
		return nil, fmt.Errorf("instance count must be > 0")
	}
	in := &ec2.RunInstancesInput{
		ImageId:      aws.String(spec.ImageID),
		InstanceType: types.InstanceType(spec.InstanceType),
		MinCount:     aws.Int32(int32(spec.Count)), // #nosec G115 -- operator-supplied small count
		MaxCount:     aws.Int32(int32(spec.Count)), // #nosec G115
	}
	if spec.KeyName != "" {
		in.KeyName = aws.String(spec.KeyName)
	}
	if spec.SecurityGroup != "" {
		in.SecurityGroupIds = []string{spec.SecurityGroup}
	}
	if spec.Name != "" {
		in.TagSpecifications = []types.TagSpecification{{
			ResourceType: types.ResourceTypeInstance,
			Tags:         []types.Tag{{Key: aws.String("Name"), Value: aws.String(spec.Name)}},
		}}
	}
	out, err := m.client.RunInstances(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("run instances: %w", err)
	}
	ids := make([]string, 0, len(out.Instances))
	for _, inst := range out.Instances {
		ids = append(ids, aws.ToString(inst.InstanceId))
	}
	return ids, nil
}

// Terminate terminates one instance.
func (m *Manager) Terminate(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("instance id is required")
	}
	if _, err := m.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{id}}); err != nil {
		return fmt.Errorf("terminate instance %s: %w", id, err)
	}
	return nil
}

// PublicAddress resolves the instance's current public IPv4 address.
func (m *Manager) PublicAddress(ctx context.Context, id string) (string, error) {
	out, err := m.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{id}})
	if err != nil {
		return "", fmt.Errorf("describe instance %s: %w", id, err)
	}
	for _, res := range out.Reservations {
		for _, inst := range res.Instances {
			if aws.ToString(inst.InstanceId) != id {
				continue
			}
			if ip := aws.ToString(inst.PublicIpAddress); ip != "" {
				return ip, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", compute.ErrNoPublicAddress, id)
}
