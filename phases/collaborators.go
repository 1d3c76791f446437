package phases

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/mgn"
	"github.com/aws/aws-sdk-go-v2/service/route53"
)

// MGNClient defines the Application Migration Service operations used by the
// executors and the compensator.
type MGNClient interface {
	DescribeSourceServers(ctx context.Context, params *mgn.DescribeSourceServersInput, optFns ...func(*mgn.Options)) (*mgn.DescribeSourceServersOutput, error)
	DescribeJobs(ctx context.Context, params *mgn.DescribeJobsInput, optFns ...func(*mgn.Options)) (*mgn.DescribeJobsOutput, error)
	StartTest(ctx context.Context, params *mgn.StartTestInput, optFns ...func(*mgn.Options)) (*mgn.StartTestOutput, error)
	StartCutover(ctx context.Context, params *mgn.StartCutoverInput, optFns ...func(*mgn.Options)) (*mgn.StartCutoverOutput, error)
	StopReplication(ctx context.Context, params *mgn.StopReplicationInput, optFns ...func(*mgn.Options)) (*mgn.StopReplicationOutput, error)
}

// EC2Client defines the EC2 operations used for prerequisite checks,
// instance health verification and rollback termination.
type EC2Client interface {
	DescribeSubnets(ctx context.Context, params *ec2.DescribeSubnetsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error)
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	DescribeInstanceStatus(ctx context.Context, params *ec2.DescribeInstanceStatusInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceStatusOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// Route53Client defines the DNS operations used by the cutover executor.
type Route53Client interface {
	ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
}

// CloudWatchClient defines the metric operations used by the verification
// executor. Metric publication is best-effort.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// AssetUpdate describes one CMDB/CMF mutation.
type AssetUpdate struct {
	Wave        string
	AppName     string
	Environment string
	Status      string
}

// CMDB updates the configuration management database with migration
// progress. The concrete endpoint is deployment-specific.
type CMDB interface {
	UpdateAsset(ctx context.Context, update AssetUpdate) (map[string]any, error)
}

// LoggedCMDB records asset updates without calling an external system. It
// stands in until the real CMDB endpoint is wired; replace it with an HTTP
// implementation per deployment.
type LoggedCMDB struct {
	now func() time.Time
}

// NewLoggedCMDB creates the stand-in CMDB client.
func NewLoggedCMDB() *LoggedCMDB {
	return &LoggedCMDB{now: time.Now}
}

func (c *LoggedCMDB) UpdateAsset(_ context.Context, update AssetUpdate) (map[string]any, error) {
	return map[string]any{
		"wave":        update.Wave,
		"appName":     update.AppName,
		"environment": update.Environment,
		"status":      update.Status,
		"updatedAt":   c.now().UTC().Format(time.RFC3339),
	}, nil
}

var _ CMDB = (*LoggedCMDB)(nil)
