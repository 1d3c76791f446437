// Command migrationd runs the migration orchestration service: it consumes
// workflow events from the bus-fed queue, routes each to its phase executor,
// and consumes raw migration requests for ingress validation.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/mgn"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	migration "github.com/girishfury/migration"
	"github.com/girishfury/migration/bus"
	"github.com/girishfury/migration/callback"
	"github.com/girishfury/migration/dispatcher"
	"github.com/girishfury/migration/ingress"
	"github.com/girishfury/migration/phases"
	"github.com/girishfury/migration/rollback"
	"github.com/girishfury/migration/state"
)

type config struct {
	tableName     string
	busName       string
	workflowQueue string
	ingressQueue  string
	rollbackTopic string
}

func loadConfig() (config, error) {
	cfg := config{
		tableName:     os.Getenv("MIGRATION_TABLE_NAME"),
		busName:       os.Getenv("EVENT_BUS_NAME"),
		workflowQueue: os.Getenv("WORKFLOW_QUEUE_URL"),
		ingressQueue:  os.Getenv("INGRESS_QUEUE_URL"),
		rollbackTopic: os.Getenv("ROLLBACK_TOPIC_ARN"),
	}
	if cfg.tableName == "" {
		return config{}, fmt.Errorf("MIGRATION_TABLE_NAME is required")
	}
	if cfg.busName == "" {
		return config{}, fmt.Errorf("EVENT_BUS_NAME is required")
	}
	if cfg.workflowQueue == "" {
		return config{}, fmt.Errorf("WORKFLOW_QUEUE_URL is required")
	}
	return cfg, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("migrationd exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	store := state.NewDynamoDBStore(awsCfg, cfg.tableName)
	publisher := bus.NewEventBridgePublisher(awsCfg, cfg.busName)

	mgnClient := mgn.NewFromConfig(awsCfg)
	ec2Client := ec2.NewFromConfig(awsCfg)
	dnsClient := route53.NewFromConfig(awsCfg)
	cwClient := cloudwatch.NewFromConfig(awsCfg)
	snsClient := sns.NewFromConfig(awsCfg)
	secretsClient := secretsmanager.NewFromConfig(awsCfg)
	sqsClient := sqs.NewFromConfig(awsCfg)
	cmdb := phases.NewLoggedCMDB()

	notifier := callback.NewNotifier(nil, secretsClient, store, logger)

	validate := phases.NewValidateInput(store, publisher, ec2Client, mgnClient, logger)
	prepare := phases.NewPrepareSource(store, publisher, mgnClient, logger)
	trigger := phases.NewTriggerMigration(store, publisher, mgnClient, cmdb, logger)
	verify := phases.NewVerifyMigration(store, publisher, mgnClient, ec2Client, cwClient, logger)
	cutover := phases.NewFinalizeCutover(store, publisher, dnsClient, cmdb, notifier, logger)
	compensator := rollback.NewCompensator(store, mgnClient, ec2Client, snsClient, cfg.rollbackTopic, logger)

	d := dispatcher.New(logger)
	d.Register(migration.DetailMigrationRequested, "", executorRoute(validate))
	d.Register(migration.DetailMigrationStatusUpdate, phases.StepValidateInput, executorRoute(prepare))
	d.Register(migration.DetailMigrationStatusUpdate, phases.StepPrepareSource, executorRoute(trigger))
	d.Register(migration.DetailMigrationStatusUpdate, phases.StepTriggerMigration, executorRoute(verify))
	d.Register(migration.DetailMigrationStatusUpdate, phases.StepVerifyMigration, executorRoute(cutover))
	d.Register(migration.DetailMigrationFailed, "", func(ctx context.Context, ev migration.Event) error {
		resp := compensator.Execute(ctx, ev)
		terminal := ev
		if terminal.Detail == nil {
			terminal.Detail = map[string]any{}
		}
		terminal.Detail["status"] = string(resp.Status)
		notifier.Notify(ctx, terminal)
		return nil
	})

	ingressHandler, err := ingress.NewHandler(publisher, logger)
	if err != nil {
		return err
	}

	consumer := dispatcher.NewConsumer(sqsClient, cfg.workflowQueue, d, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("workflow consumer stopped", "error", err)
		}
	}()

	if cfg.ingressQueue != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runIngress(ctx, sqsClient, cfg.ingressQueue, ingressHandler, logger)
		}()
	}

	logger.Info("migrationd started",
		"table", cfg.tableName,
		"bus", cfg.busName,
	)
	wg.Wait()
	return nil
}

// executorRoute adapts a phase executor to the dispatcher. A phase failure
// is a handled outcome, already persisted and published; only responses are
// logged here.
func executorRoute(ex phases.Executor) dispatcher.HandlerFunc {
	return func(ctx context.Context, ev migration.Event) error {
		resp := ex.Execute(ctx, ev)
		if resp.Error != nil {
			slog.Warn("phase completed with failure",
				"step", resp.Step,
				"migration_id", resp.MigrationID,
				"correlation_id", resp.CorrelationID,
				"error_code", resp.Error.Code,
			)
		}
		return nil
	}
}

// runIngress polls the raw-request queue and feeds batches to the ingress
// handler. Validation failures are permanent, so every processed message is
// deleted either way; the per-message report is logged.
func runIngress(ctx context.Context, client *sqs.Client, queueURL string, h *ingress.Handler, logger *slog.Logger) {
	for ctx.Err() == nil {
		out, err := client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(queueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
		})
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("ingress receive failed", "error", err)
			}
			continue
		}

		msgs := make([]ingress.Message, 0, len(out.Messages))
		for _, m := range out.Messages {
			msgs = append(msgs, ingress.Message{
				MessageID: aws.ToString(m.MessageId),
				Body:      []byte(aws.ToString(m.Body)),
			})
		}
		if len(msgs) == 0 {
			continue
		}

		h.HandleBatch(ctx, msgs)

		for _, m := range out.Messages {
			if _, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      aws.String(queueURL),
				ReceiptHandle: m.ReceiptHandle,
			}); err != nil {
				logger.Error("ingress message delete failed", "error", err)
			}
		}
	}
}
