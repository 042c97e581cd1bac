package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/kubernetes"

	"github.com/customeros/mailpulse/config"
	"github.com/customeros/mailpulse/dto"
	"github.com/customeros/mailpulse/internal/logger"
)

type mockKubernetesInterface struct {
	kubernetes.Interface
	mock.Mock
}

type mockAccounts struct {
	mock.Mock
}

func (m *mockAccounts) Reconcile(ctx context.Context) (*dto.ReconcileResult, error) {
	args := m.Called(ctx)
	result, _ := args.Get(0).(*dto.ReconcileResult)
	return result, args.Error(1)
}

func (m *mockAccounts) SyncAll(ctx context.Context) int {
	return m.Called(ctx).Int(0)
}

func getLogger() logger.Logger {
	appLogger := logger.NewAppLogger(&logger.Config{
		DevMode: true,
	})
	appLogger.InitLogger()
	return appLogger
}

func testCronConfig() *config.CronConfig {
	return &config.CronConfig{
		CronScheduleHeartbeat:         "0 * * * * *",
		CronScheduleReconcileAccounts: "30 * * * * *",
		CronScheduleSafetySync:        "0 */15 * * * *",
	}
}

func TestNewCronManager(t *testing.T) {
	cfg := testCronConfig()
	log := getLogger()
	k8s := &mockKubernetesInterface{}

	cm := NewCronManager(cfg, log, k8s, &mockAccounts{})

	assert.NotNil(t, cm)
	assert.Equal(t, cfg, cm.cfg)
	assert.Equal(t, log, cm.log)
	assert.Equal(t, k8s, cm.k8s)
	assert.NotNil(t, cm.jobIDs)
}

func TestCronManager_StartInLocalMode(t *testing.T) {
	cm := NewCronManager(testCronConfig(), getLogger(), nil, &mockAccounts{})

	require.NoError(t, cm.Start("pod-1", "default"))
	defer cm.Stop()

	assert.NotNil(t, cm.cron)
	assert.Len(t, cm.jobIDs, 3)
	assert.Len(t, cm.cron.Entries(), 3)

	// a second start keeps the running scheduler
	cm.StartCron()
	assert.Len(t, cm.cron.Entries(), 3)
}

func TestCronManager_EmptyScheduleSkipsJob(t *testing.T) {
	cfg := testCronConfig()
	cfg.CronScheduleSafetySync = ""
	cm := NewCronManager(cfg, getLogger(), nil, &mockAccounts{})

	cm.StartCron()
	defer cm.Stop()

	assert.Len(t, cm.jobIDs, 2)
	_, ok := cm.jobIDs["safety_sync"]
	assert.False(t, ok)
}

func TestCronManager_Stop(t *testing.T) {
	cm := NewCronManager(testCronConfig(), getLogger(), &mockKubernetesInterface{}, &mockAccounts{})
	cm.StartCron()

	cm.Stop()
	cm.Stop()

	select {
	case <-cm.stopCh:
	default:
		t.Error("Stop channel was not closed")
	}
	assert.Nil(t, cm.cron)
}

func TestCronManager_ReconcileAccounts(t *testing.T) {
	accounts := &mockAccounts{}
	accounts.On("Reconcile", mock.Anything).Return(&dto.ReconcileResult{Started: []string{"acct-1"}}, nil).Once()
	cm := NewCronManager(testCronConfig(), getLogger(), nil, accounts)

	cm.reconcileAccounts()

	accounts.AssertExpectations(t)
}

func TestCronManager_ReconcileAccountsError(t *testing.T) {
	accounts := &mockAccounts{}
	accounts.On("Reconcile", mock.Anything).Return(nil, assert.AnError).Once()
	cm := NewCronManager(testCronConfig(), getLogger(), nil, accounts)

	assert.NotPanics(t, cm.reconcileAccounts)
	accounts.AssertExpectations(t)
}

func TestCronManager_SafetySync(t *testing.T) {
	accounts := &mockAccounts{}
	accounts.On("SyncAll", mock.Anything).Return(4).Once()
	cm := NewCronManager(testCronConfig(), getLogger(), nil, accounts)

	cm.safetySync()

	accounts.AssertExpectations(t)
}
