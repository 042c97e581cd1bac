package cron

import (
	"context"
	"os"
	"sync"
	"time"

	cronv3 "github.com/robfig/cron/v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/internal/logger"
	"github.com/customeros/mailpulse/internal/tracing"
	"github.com/customeros/mailpulse/internal/utils"
)

const (
	// GroupAccounts serializes jobs that start, stop or poke supervisors
	GroupAccounts = "accounts"

	// LeaseDuration is how long a lease lasts before needing renewal
	LeaseDuration = 15 * time.Second
	// RenewDeadline is how long a leader has to renew its lease
	RenewDeadline = 10 * time.Second
	// RetryPeriod is how long to wait between leadership attempts
	RetryPeriod = 2 * time.Second

	jobTimeout    = 5 * time.Minute
	cronAppSource = "mailpulse-cron"
)

var jobLocks = struct {
	sync.Mutex
	locks map[string]*sync.Mutex
}{
	locks: map[string]*sync.Mutex{
		GroupAccounts: new(sync.Mutex),
	},
}

// AccountMaintainer is the slice of the account service the jobs drive.
type AccountMaintainer interface {
	Reconcile(ctx context.Context) (*dto.ReconcileResult, error)
	SyncAll(ctx context.Context) int
}

type CronManager struct {
	cfg      *config.CronConfig
	log      logger.Logger
	cron     *cronv3.Cron
	k8s      kubernetes.Interface
	accounts AccountMaintainer

	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc
	jobIDs   map[string]cronv3.EntryID
}

func NewCronManager(cfg *config.CronConfig, log logger.Logger, k8s kubernetes.Interface, accounts AccountMaintainer) *CronManager {
	return &CronManager{
		cfg:      cfg,
		log:      log,
		k8s:      k8s,
		accounts: accounts,
		stopCh:   make(chan struct{}),
		jobIDs:   make(map[string]cronv3.EntryID),
	}
}

// Start runs the jobs on the elected leader only. Without a k8s client the
// manager runs in local mode.
func (cm *CronManager) Start(podName, namespace string) error {
	if cm.k8s == nil || os.Getenv("LOCAL_DEV") == "true" {
		cm.log.Info("Starting cron manager in local mode")
		cm.StartCron()
		return nil
	}

	lock := &resourcelock.LeaseLock{
		LeaseMeta: metav1.ObjectMeta{
			Name:      "mailpulse-cron-leader",
			Namespace: namespace,
		},
		Client: cm.k8s.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{
			Identity: podName,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	cm.mu.Lock()
	cm.cancel = cancel
	cm.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		defer tracing.RecoverAndLogToJaeger(cm.log)

		le, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
			Lock:            lock,
			ReleaseOnCancel: true,
			LeaseDuration:   LeaseDuration,
			RenewDeadline:   RenewDeadline,
			RetryPeriod:     RetryPeriod,
			Callbacks: leaderelection.LeaderCallbacks{
				OnStartedLeading: func(ctx context.Context) {
					cm.StartCron()
				},
				OnStoppedLeading: func() {
					cm.log.Info("Leader lost - stopping crons")
					cm.stopCron()
				},
				OnNewLeader: func(identity string) {
					cm.log.Infof("New leader elected: %s", identity)
				},
			},
		})
		if err != nil {
			errCh <- err
			return
		}
		le.Run(ctx)
	}()

	// leader election failing right away means no usable cluster access
	select {
	case err := <-errCh:
		cm.log.Warnf("Leader election failed, falling back to local mode: %v", err)
		cm.StartCron()
	case <-time.After(5 * time.Second):
	}

	return nil
}

// Stop ends leader election and waits for running jobs. Safe to call twice.
func (cm *CronManager) Stop() {
	cm.stopOnce.Do(func() {
		cm.mu.Lock()
		cancel := cm.cancel
		cm.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		cm.stopCron()
		close(cm.stopCh)
	})
}

func (cm *CronManager) stopCron() {
	cm.mu.Lock()
	c := cm.cron
	cm.cron = nil
	cm.mu.Unlock()

	if c != nil {
		cm.log.Info("Stopping cron manager")
		<-c.Stop().Done()
	}
}

func (cm *CronManager) registerJobs(c *cronv3.Cron) {
	cm.addJob(c, "heartbeat", cm.cfg.CronScheduleHeartbeat, "", cm.heartbeat)
	cm.addJob(c, "reconcile_accounts", cm.cfg.CronScheduleReconcileAccounts, GroupAccounts, cm.reconcileAccounts)
	cm.addJob(c, "safety_sync", cm.cfg.CronScheduleSafetySync, GroupAccounts, cm.safetySync)
}

// addJob skips jobs with an empty schedule. A job in a group never overlaps
// another job of the same group.
func (cm *CronManager) addJob(c *cronv3.Cron, name, schedule, group string, job func()) {
	if schedule == "" {
		return
	}
	id, err := c.AddFunc(schedule, func() {
		defer tracing.RecoverAndLogToJaeger(cm.log)
		if group != "" {
			jobLocks.locks[group].Lock()
			defer jobLocks.locks[group].Unlock()
		}
		job()
	})
	if err != nil {
		cm.log.Fatalf("Could not add %s cron job: %v", name, err)
	}
	cm.jobIDs[name] = id
	cm.log.Infof("Registered %s job with schedule: %s", name, schedule)
}

// StartCron initializes and starts the cron scheduler
func (cm *CronManager) StartCron() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.cron != nil {
		return
	}

	cm.log.Info("Starting cron manager")
	c := cronv3.New(
		cronv3.WithSeconds(),
		cronv3.WithChain(
			cronv3.SkipIfStillRunning(cronv3.DefaultLogger),
			cronv3.Recover(cronv3.DefaultLogger),
		),
	)
	cm.registerJobs(c)
	c.Start()
	cm.cron = c
}

func (cm *CronManager) heartbeat() {
	podName := os.Getenv("POD_NAME")
	if podName == "" {
		podName = "local"
	}
	cm.log.Infof("Cron heartbeat from pod: %s", podName)
}

func (cm *CronManager) reconcileAccounts() {
	ctx, cancel := context.WithTimeout(utils.SetAppSourceInContext(context.Background(), cronAppSource), jobTimeout)
	defer cancel()

	span, ctx := tracing.StartTracerSpan(ctx, "CronManager.reconcileAccounts")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	result, err := cm.accounts.Reconcile(ctx)
	if err != nil {
		tracing.TraceErr(span, err)
		cm.log.Errorf("Failed to reconcile accounts: %v", err)
		return
	}
	if len(result.Started) > 0 || len(result.Stopped) > 0 {
		cm.log.Infof("Reconciled accounts: started %v, stopped %v", result.Started, result.Stopped)
	}
}

func (cm *CronManager) safetySync() {
	span, ctx := tracing.StartTracerSpan(utils.SetAppSourceInContext(context.Background(), cronAppSource), "CronManager.safetySync")
	defer span.Finish()
	tracing.TagComponentCronJob(span)

	requested := cm.accounts.SyncAll(ctx)
	cm.log.Debugf("Safety sync requested for %d accounts", requested)
}
