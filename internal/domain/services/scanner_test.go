package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbguard-appscan/internal/config"
	"orbguard-appscan/internal/domain/models"
	"orbguard-appscan/internal/infrastructure/memory"
	"orbguard-appscan/pkg/logger"
)

// fakeSource serves a mutable package list and can block or fail
type fakeSource struct {
	mu       sync.Mutex
	packages []models.InstalledPackageFacts
	err      error
	started  chan struct{}
	release  chan struct{}
}

func (s *fakeSource) ListPackages(ctx context.Context) ([]models.InstalledPackageFacts, error) {
	if s.started != nil {
		close(s.started)
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]models.InstalledPackageFacts(nil), s.packages...), nil
}

func (s *fakeSource) GetPackage(_ context.Context, name string) (*models.InstalledPackageFacts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.packages {
		if s.packages[i].PackageName == name {
			pkg := s.packages[i]
			return &pkg, nil
		}
	}
	return nil, ErrAppNotFound
}

func (s *fakeSource) set(packages ...models.InstalledPackageFacts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.packages = packages
}

// fakeLocker is an in-process ScanLocker
type fakeLocker struct {
	mu       sync.Mutex
	held     bool
	released int
}

func (l *fakeLocker) AcquireLock(context.Context, string, time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false, nil
	}
	l.held = true
	return true, nil
}

func (l *fakeLocker) ReleaseLock(context.Context, string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held = false
	l.released++
	return nil
}

type scannerFixture struct {
	source    *fakeSource
	apps      *memory.AppStore
	feedback  *FeedbackService
	publisher *recordingPublisher
	scanner   *Scanner
}

func newScannerFixture(cfg config.ScanConfig, apps AppStore) *scannerFixture {
	log := logger.NewNop()
	mem := memory.NewAppStore()
	if apps == nil {
		apps = mem
	}
	exclusions := memory.NewExclusionStore("com.user.excluded")

	f := &scannerFixture{
		source:    &fakeSource{},
		apps:      mem,
		publisher: &recordingPublisher{},
	}
	f.feedback = NewFeedbackService(apps, memory.NewFeedbackStore(), exclusions, log)
	f.scanner = NewScanner(cfg, f.source, exclusions, NewAppAnalyzer(log), f.feedback, log)
	f.scanner.SetEventPublisher(f.publisher)
	return f
}

func withPerms(pkg models.InstalledPackageFacts, display string, perms ...string) models.InstalledPackageFacts {
	pkg.DisplayName = display
	pkg.RequestedPermissions = perms
	return pkg
}

func samplePackages() []models.InstalledPackageFacts {
	incomplete := launchable("com.example.locked", false)
	incomplete.QueryStatus = models.QueryStatusPermissionsUnavailable

	broken := launchable("com.example.broken", false)
	broken.QueryStatus = models.QueryStatusMetadataUnavailable

	return []models.InstalledPackageFacts{
		withPerms(launchable("com.example.notes", false), "Notes", permInternet),
		withPerms(launchable("com.example.social", false), "Social", surveillancePerms...),
		withPerms(launchable("com.example.game", false), "Game", permReadSMS),
		withPerms(launchable("com.user.excluded", false), "Excluded", permCamera),
		withPerms(launchable("com.android.systemui", true), "System UI", permCamera),
		incomplete,
		broken,
	}
}

func TestScanner_ScanAggregatesAndSorts(t *testing.T) {
	ctx := context.Background()
	f := newScannerFixture(config.ScanConfig{WorkerPoolSize: 3, YieldEvery: 1}, nil)
	f.source.set(samplePackages()...)

	result, err := f.scanner.Scan(ctx, models.ScanTriggerManual)
	require.NoError(t, err)

	assert.Equal(t, models.ScanStatusCompleted, result.Status)
	assert.Equal(t, models.ScanTriggerManual, result.Trigger)

	names := make([]string, len(result.Apps))
	for i, app := range result.Apps {
		names[i] = app.PackageName
	}
	// 100, 57 (game + SMS), 3, 0 (incomplete)
	assert.Equal(t, []string{"com.example.social", "com.example.game", "com.example.notes", "com.example.locked"}, names)

	c := result.Counts
	assert.Equal(t, 7, c.Total)
	assert.Equal(t, 4, c.Candidates)
	assert.Equal(t, 4, c.Analyzed)
	assert.Equal(t, 1, c.Incomplete)
	assert.Equal(t, 1, c.Failed)
	assert.Equal(t, 0, c.Skipped)
	assert.Equal(t, 1, c.Dropped[models.DropExcluded])
	assert.Equal(t, 1, c.Dropped[models.DropSystemInternal])

	assert.Equal(t, 4, f.apps.Len())
	assert.Equal(t, []models.ScanEventType{models.EventScanStarted, models.EventScanCompleted}, f.publisher.types())

	assert.Same(t, result, f.scanner.LastResult())
	stats := f.scanner.Stats()
	assert.False(t, stats.Running)
	assert.Equal(t, int64(1), stats.TotalScans)
	assert.Equal(t, result.ID.String(), stats.LastScanID)
}

func TestScanner_DiscoveryFailure(t *testing.T) {
	f := newScannerFixture(config.ScanConfig{}, nil)
	f.source.err = errors.New("package manager died")

	result, err := f.scanner.Scan(context.Background(), models.ScanTriggerManual)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDiscoveryFailed)
	assert.Contains(t, err.Error(), "package manager died")
	require.NotNil(t, result)
	assert.Equal(t, models.ScanStatusFailed, result.Status)
	assert.Equal(t, ScanFailedMessage, result.Error)
	assert.Empty(t, result.Apps)
	assert.Equal(t, []models.ScanEventType{models.EventScanStarted, models.EventScanFailed}, f.publisher.types())
}

func TestScanner_SingleFlight(t *testing.T) {
	f := newScannerFixture(config.ScanConfig{}, nil)
	f.source.set(samplePackages()...)
	f.source.started = make(chan struct{})
	f.source.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.scanner.Scan(context.Background(), models.ScanTriggerScheduled)
		done <- err
	}()

	<-f.source.started
	assert.True(t, f.scanner.IsRunning())

	_, err := f.scanner.Scan(context.Background(), models.ScanTriggerManual)
	assert.ErrorIs(t, err, ErrScanInProgress)

	close(f.source.release)
	require.NoError(t, <-done)
	assert.False(t, f.scanner.IsRunning())
}

func TestScanner_DistributedLock(t *testing.T) {
	f := newScannerFixture(config.ScanConfig{}, nil)
	f.source.set(samplePackages()...)
	locker := &fakeLocker{}
	f.scanner.SetLocker(locker)

	_, err := f.scanner.Scan(context.Background(), models.ScanTriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, locker.released)
	assert.False(t, locker.held)

	// another instance holds the lock
	locker.held = true
	_, err = f.scanner.Scan(context.Background(), models.ScanTriggerManual)
	assert.ErrorIs(t, err, ErrScanInProgress)
	assert.Equal(t, 1, locker.released)
}

// slowAppStore delays reads to let the watchdog expire mid-scan
type slowAppStore struct {
	*memory.AppStore
	delay time.Duration
}

func (s slowAppStore) Get(ctx context.Context, name string) (*models.AnalyzedApp, error) {
	time.Sleep(s.delay)
	return s.AppStore.Get(ctx, name)
}

func TestScanner_WatchdogSkipsRemainder(t *testing.T) {
	apps := slowAppStore{AppStore: memory.NewAppStore(), delay: 50 * time.Millisecond}
	f := newScannerFixture(config.ScanConfig{WorkerPoolSize: 1, MaxDuration: 10 * time.Millisecond}, apps)

	var packages []models.InstalledPackageFacts
	for _, name := range []string{"com.example.a", "com.example.b", "com.example.c", "com.example.d", "com.example.e"} {
		packages = append(packages, withPerms(launchable(name, false), "", permInternet))
	}
	f.source.set(packages...)

	result, err := f.scanner.Scan(context.Background(), models.ScanTriggerManual)
	require.NoError(t, err)

	assert.Equal(t, models.ScanStatusCompleted, result.Status)
	assert.Equal(t, 5, result.Counts.Candidates)
	assert.Equal(t, 1, result.Counts.Analyzed)
	assert.Equal(t, 4, result.Counts.Skipped)
	assert.Equal(t, 0, result.Counts.Failed)
	assert.Equal(t, result.Counts.Candidates, result.Counts.Analyzed+result.Counts.Skipped)
}

func TestScanner_RescanPreservesTrustAndReportsTierChanges(t *testing.T) {
	ctx := context.Background()
	f := newScannerFixture(config.ScanConfig{}, nil)

	social := withPerms(launchable("com.example.social", false), "Social", surveillancePerms...)
	notes := withPerms(launchable("com.example.notes", false), "Notes", permInternet)
	f.source.set(social, notes)

	_, err := f.scanner.Scan(ctx, models.ScanTriggerManual)
	require.NoError(t, err)

	_, err = f.feedback.Trust(ctx, "com.example.social")
	require.NoError(t, err)

	// unchanged permissions: trusted score survives
	result, err := f.scanner.Scan(ctx, models.ScanTriggerScheduled)
	require.NoError(t, err)
	require.Equal(t, "com.example.social", result.Apps[0].PackageName)
	assert.Equal(t, 75, result.Apps[0].Assessment.Score)

	// notes starts reading SMS: tier moves from MINIMAL to MEDIUM
	f.source.set(social, withPerms(notes, "Notes", permInternet, permReadSMS))
	f.publisher.events = nil

	result, err = f.scanner.Scan(ctx, models.ScanTriggerScheduled)
	require.NoError(t, err)
	assert.Equal(t, 75, result.Apps[0].Assessment.Score)

	types := f.publisher.types()
	assert.Contains(t, types, models.EventAppRiskChanged)

	var changed *models.ScanEvent
	for _, e := range f.publisher.events {
		if e.Type == models.EventAppRiskChanged {
			changed = e
		}
	}
	require.NotNil(t, changed)
	assert.Equal(t, "com.example.notes", changed.Data["package_name"])
	assert.Equal(t, models.RiskTierMinimal, changed.Data["previous_tier"])
	assert.Equal(t, models.RiskTierMedium, changed.Data["tier"])
}

func TestScanner_ExcludedAppLeavesNextScan(t *testing.T) {
	ctx := context.Background()
	f := newScannerFixture(config.ScanConfig{}, nil)
	f.source.set(withPerms(launchable("com.example.notes", false), "Notes", permInternet))

	_, err := f.scanner.Scan(ctx, models.ScanTriggerManual)
	require.NoError(t, err)

	require.NoError(t, f.feedback.Exclude(ctx, "com.example.notes"))

	result, err := f.scanner.Scan(ctx, models.ScanTriggerManual)
	require.NoError(t, err)
	assert.Empty(t, result.Apps)
	assert.Equal(t, 1, result.Counts.Dropped[models.DropExcluded])
	assert.Equal(t, 0, f.apps.Len())
}
