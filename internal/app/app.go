// Package app assembles the tracker and its infrastructure from
// configuration. Both the HTTP service and the operator CLI start here.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mail-tracker/internal/config"
	"github.com/ignite/mail-tracker/internal/content"
	"github.com/ignite/mail-tracker/internal/events"
	"github.com/ignite/mail-tracker/internal/pkg/awsconfig"
	"github.com/ignite/mail-tracker/internal/pkg/distlock"
	"github.com/ignite/mail-tracker/internal/pkg/logger"
	"github.com/ignite/mail-tracker/internal/repository"
	"github.com/ignite/mail-tracker/internal/service/mailtracker"
	"github.com/ignite/mail-tracker/internal/tracking"
)

const sweepLockKey = "mail-tracker:sweep"

// App holds the wired tracker and the clients it owns.
type App struct {
	Config  *config.Config
	Tracker *mailtracker.Tracker
	Store   *repository.Store
	Sweeper *mailtracker.Sweeper
	Redis   *redis.Client

	awsCfgs map[string]aws.Config
	sqsPub  *events.SQSPublisher
	closers []func() error
}

// New connects every configured backend and returns the assembled app.
// On error, anything already opened is closed.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.RedactEnabled())

	a := &App{Config: cfg, awsCfgs: map[string]aws.Config{}}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	conn, err := cfg.Connection()
	if err != nil {
		return err
	}
	a.Store, err = repository.Open(ctx, conn, a.aws)
	if err != nil {
		return fmt.Errorf("open %s store: %w", conn.Driver, err)
	}
	a.closers = append(a.closers, a.Store.Close)

	if cfg.Redis.Addr != "" {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, a.Redis.Close)
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
	}

	svc := cfg.Service()
	if err := svc.Validate(); err != nil {
		return err
	}
	a.Tracker = mailtracker.NewTracker(a.Store.Repo, svc)

	if err := a.wireContent(ctx); err != nil {
		return err
	}
	if err := a.wireEvents(ctx); err != nil {
		return err
	}

	a.Sweeper = mailtracker.NewSweeper(a.Store.Repo, cfg.Tracker.ExpireDays,
		distlock.NewLock(a.Redis, a.Store.DB, sweepLockKey, 10*time.Minute))
	a.Tracker.SetSweeper(a.Sweeper)

	if cfg.Tracker.ConfirmSubscriptions {
		a.Tracker.SetConfirmer(tracking.NewHTTPConfirmer(nil))
	}
	return nil
}

func (a *App) wireContent(ctx context.Context) error {
	cc := a.Config.Content
	var client content.S3API
	if a.Config.Tracker.ContentStrategy == content.StrategyS3 {
		awsCfg, err := a.aws(ctx, cc.Region)
		if err != nil {
			return err
		}
		client = s3.NewFromConfig(awsCfg)
	}
	store, err := content.New(a.Config.Tracker.ContentStrategy, client, cc.Bucket, cc.Prefix)
	if err != nil {
		return err
	}
	a.Tracker.SetContentStore(store)
	return nil
}

func (a *App) wireEvents(ctx context.Context) error {
	ec := a.Config.Events
	var sinks events.Multi

	if ec.SQSQueueURL != "" {
		client, err := a.SQS(ctx)
		if err != nil {
			return err
		}
		a.sqsPub = events.NewSQSPublisher(client, ec.SQSQueueURL)
		sinks = append(sinks, a.sqsPub)
	}
	if ec.RedisChannel != "" {
		if a.Redis == nil {
			return errors.New("events.redis_channel requires redis.addr")
		}
		sinks = append(sinks, events.NewRedisPublisher(a.Redis, ec.RedisChannel))
	}
	if ec.AMQPURL != "" {
		pub, err := events.DialAMQP(ec.AMQPURL, ec.AMQPExchange)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pub.Close)
		sinks = append(sinks, pub)
	}

	if len(sinks) > 0 {
		a.Tracker.SetDispatcher(sinks)
	}
	return nil
}

// aws returns the AWS configuration for region, loading it once.
func (a *App) aws(ctx context.Context, region string) (aws.Config, error) {
	if region == "" {
		region = a.Config.AWS.Region
	}
	if cfg, ok := a.awsCfgs[region]; ok {
		return cfg, nil
	}
	cfg, err := awsconfig.Load(ctx, awsconfig.Options{
		Region:          region,
		Profile:         a.Config.AWS.Profile,
		AccessKeyID:     a.Config.AWS.AccessKeyID,
		SecretAccessKey: a.Config.AWS.SecretAccessKey,
	})
	if err != nil {
		return aws.Config{}, err
	}
	a.awsCfgs[region] = cfg
	return cfg, nil
}

// SQS returns a client in the default AWS region.
func (a *App) SQS(ctx context.Context) (*sqs.Client, error) {
	cfg, err := a.aws(ctx, "")
	if err != nil {
		return nil, err
	}
	return sqs.NewFromConfig(cfg), nil
}

// Handler returns the HTTP handler, with redirect rate limiting when
// configured.
func (a *App) Handler() (*tracking.Handler, error) {
	h := tracking.NewHandler(a.Tracker)
	if rate := a.Config.RateLimit.Redirect; rate != "" {
		mw, err := tracking.NewRateLimiter(rate, a.Redis)
		if err != nil {
			return nil, err
		}
		h.SetRedirectLimiter(mw)
	}
	return h, nil
}

// Close flushes pending events and closes owned clients in reverse order.
func (a *App) Close() error {
	if a.sqsPub != nil {
		a.sqsPub.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
