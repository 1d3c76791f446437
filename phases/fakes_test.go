package phases

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/mgn"
	"github.com/aws/aws-sdk-go-v2/service/route53"
)

// fakePublisher records every published event by kind for assertions.
type fakePublisher struct {
	statusEvents  []map[string]any
	failureEvents []map[string]any
	successEvents []map[string]any
	err           error
}

func (f *fakePublisher) Publish(_ context.Context, detailType string, detail map[string]any, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "evt-raw", nil
}

func (f *fakePublisher) PublishSuccess(_ context.Context, migrationID, correlationID string, details map[string]any) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	ev := map[string]any{"migrationId": migrationID, "correlationId": correlationID}
	for k, v := range details {
		ev[k] = v
	}
	f.successEvents = append(f.successEvents, ev)
	return fmt.Sprintf("evt-success-%d", len(f.successEvents)), nil
}

func (f *fakePublisher) PublishFailure(_ context.Context, migrationID, correlationID, errorCode, errorMessage string, details map[string]any) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	ev := map[string]any{
		"migrationId":   migrationID,
		"correlationId": correlationID,
		"errorCode":     errorCode,
		"errorMessage":  errorMessage,
	}
	for k, v := range details {
		ev[k] = v
	}
	f.failureEvents = append(f.failureEvents, ev)
	return fmt.Sprintf("evt-failure-%d", len(f.failureEvents)), nil
}

func (f *fakePublisher) PublishStatus(_ context.Context, migrationID, correlationID, currentStep, status string, details map[string]any) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	ev := map[string]any{
		"migrationId":   migrationID,
		"correlationId": correlationID,
		"currentStep":   currentStep,
		"status":        status,
	}
	for k, v := range details {
		ev[k] = v
	}
	f.statusEvents = append(f.statusEvents, ev)
	return fmt.Sprintf("evt-status-%d", len(f.statusEvents)), nil
}

// fakeMGN serves canned outputs and records which launches were started.
type fakeMGN struct {
	sourceServersOut *mgn.DescribeSourceServersOutput
	sourceServersErr error
	jobsOut          *mgn.DescribeJobsOutput
	jobsErr          error
	testOut          *mgn.StartTestOutput
	testErr          error
	cutoverOut       *mgn.StartCutoverOutput
	cutoverErr       error
	stopErr          error

	testCalls    int
	cutoverCalls int
	stopCalls    int
}

func (f *fakeMGN) DescribeSourceServers(_ context.Context, _ *mgn.DescribeSourceServersInput, _ ...func(*mgn.Options)) (*mgn.DescribeSourceServersOutput, error) {
	if f.sourceServersErr != nil {
		return nil, f.sourceServersErr
	}
	if f.sourceServersOut != nil {
		return f.sourceServersOut, nil
	}
	return &mgn.DescribeSourceServersOutput{}, nil
}

func (f *fakeMGN) DescribeJobs(_ context.Context, _ *mgn.DescribeJobsInput, _ ...func(*mgn.Options)) (*mgn.DescribeJobsOutput, error) {
	if f.jobsErr != nil {
		return nil, f.jobsErr
	}
	if f.jobsOut != nil {
		return f.jobsOut, nil
	}
	return &mgn.DescribeJobsOutput{}, nil
}

func (f *fakeMGN) StartTest(_ context.Context, _ *mgn.StartTestInput, _ ...func(*mgn.Options)) (*mgn.StartTestOutput, error) {
	f.testCalls++
	if f.testErr != nil {
		return nil, f.testErr
	}
	if f.testOut != nil {
		return f.testOut, nil
	}
	return &mgn.StartTestOutput{}, nil
}

func (f *fakeMGN) StartCutover(_ context.Context, _ *mgn.StartCutoverInput, _ ...func(*mgn.Options)) (*mgn.StartCutoverOutput, error) {
	f.cutoverCalls++
	if f.cutoverErr != nil {
		return nil, f.cutoverErr
	}
	if f.cutoverOut != nil {
		return f.cutoverOut, nil
	}
	return &mgn.StartCutoverOutput{}, nil
}

func (f *fakeMGN) StopReplication(_ context.Context, _ *mgn.StopReplicationInput, _ ...func(*mgn.Options)) (*mgn.StopReplicationOutput, error) {
	f.stopCalls++
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	return &mgn.StopReplicationOutput{}, nil
}

// fakeEC2 serves canned outputs for prerequisite and health checks.
type fakeEC2 struct {
	subnetsErr     error
	groupsErr      error
	statusOut      *ec2.DescribeInstanceStatusOutput
	statusErr      error
	terminateErr   error
	terminateCalls int
}

func (f *fakeEC2) DescribeSubnets(_ context.Context, _ *ec2.DescribeSubnetsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSubnetsOutput, error) {
	if f.subnetsErr != nil {
		return nil, f.subnetsErr
	}
	return &ec2.DescribeSubnetsOutput{}, nil
}

func (f *fakeEC2) DescribeSecurityGroups(_ context.Context, _ *ec2.DescribeSecurityGroupsInput, _ ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error) {
	if f.groupsErr != nil {
		return nil, f.groupsErr
	}
	return &ec2.DescribeSecurityGroupsOutput{}, nil
}

func (f *fakeEC2) DescribeInstanceStatus(_ context.Context, _ *ec2.DescribeInstanceStatusInput, _ ...func(*ec2.Options)) (*ec2.DescribeInstanceStatusOutput, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.statusOut != nil {
		return f.statusOut, nil
	}
	return &ec2.DescribeInstanceStatusOutput{}, nil
}

func (f *fakeEC2) TerminateInstances(_ context.Context, _ *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	f.terminateCalls++
	if f.terminateErr != nil {
		return nil, f.terminateErr
	}
	return &ec2.TerminateInstancesOutput{}, nil
}

// fakeRoute53 records DNS change calls.
type fakeRoute53 struct {
	input *route53.ChangeResourceRecordSetsInput
	err   error
}

func (f *fakeRoute53) ChangeResourceRecordSets(_ context.Context, params *route53.ChangeResourceRecordSetsInput, _ ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &route53.ChangeResourceRecordSetsOutput{}, nil
}

// fakeCloudWatch records metric publications.
type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &cloudwatch.PutMetricDataOutput{}, nil
}

// failingCMDB rejects every asset update.
type failingCMDB struct{ err error }

func (c *failingCMDB) UpdateAsset(_ context.Context, _ AssetUpdate) (map[string]any, error) {
	return nil, c.err
}
