package lifecycle

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nace/skrinja/internal/config"
	"github.com/nace/skrinja/internal/container"
	"github.com/nace/skrinja/internal/supervisor"
	"github.com/nace/skrinja/internal/system"
	"github.com/nace/skrinja/internal/ui"
)

// fakeDriver simulates the encryption layer on plain files.
type fakeDriver struct {
	mu        sync.Mutex
	passwords map[string]string
	open      map[string]bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		passwords: make(map[string]string),
		open:      make(map[string]bool),
	}
}

func (d *fakeDriver) Create(path string, password *system.SecureBytes, sizeBytes uint64, fsType string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := os.Stat(path); err == nil {
		return container.ErrAlreadyExists
	}
	if err := os.WriteFile(path, make([]byte, 16), 0600); err != nil {
		return err
	}
	d.passwords[path] = string(password.Bytes())
	return nil
}

func (d *fakeDriver) Open(path string, password *system.SecureBytes) (*container.Mapping, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := os.Stat(path); err != nil {
		return nil, container.ErrNotFound
	}
	if d.passwords[path] != string(password.Bytes()) {
		return nil, container.ErrWrongPassword
	}
	d.open[path] = true
	return &container.Mapping{
		Path:       path,
		MapperName: container.GenerateMapperName(path),
		LoopDevice: "/dev/loop9",
	}, nil
}

func (d *fakeDriver) Close(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.open[path] = false
	return nil
}

func (d *fakeDriver) Lookup(path string) *container.Mapping {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.open[path] {
		return nil
	}
	return &container.Mapping{
		Path:       path,
		MapperName: container.GenerateMapperName(path),
		LoopDevice: "/dev/loop9",
	}
}

func (d *fakeDriver) State(path string) container.EncryptionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := os.Stat(path); err != nil {
		return container.StateNonexistent
	}
	if d.open[path] {
		return container.StateOpen
	}
	return container.StateClosed
}

func (d *fakeDriver) VerifyPassword(path string, password *system.SecureBytes) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	stored, ok := d.passwords[path]
	return ok && stored == string(password.Bytes())
}

func (d *fakeDriver) ChangePassword(path string, oldPassword, newPassword *system.SecureBytes) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.passwords[path] != string(oldPassword.Bytes()) {
		return container.ErrWrongPassword
	}
	d.passwords[path] = string(newPassword.Bytes())
	return nil
}

// fakeMounter tracks mount state in memory.
type fakeMounter struct {
	mu      sync.Mutex
	mounted map[string]string // mountPoint -> device
}

func newFakeMounter() *fakeMounter {
	return &fakeMounter{mounted: make(map[string]string)}
}

func (f *fakeMounter) Mount(device, mountPoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.mounted[mountPoint]; ok {
		return container.ErrAlreadyMounted
	}
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return err
	}
	f.mounted[mountPoint] = device
	return nil
}

func (f *fakeMounter) Unmount(mountPoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.mounted, mountPoint)
	return nil
}

func (f *fakeMounter) IsMounted(device, mountPoint string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mounted[mountPoint] == device
}

func (f *fakeMounter) UsedSpace(mountPoint string) (uint64, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.mounted[mountPoint]; !ok {
		return 0, 0, errors.New("not mounted")
	}
	return 1 << 30, 123456, nil
}

// fakeRunner records supervisor calls.
type fakeRunner struct {
	mu      sync.Mutex
	started int
	stopped int
}

func (f *fakeRunner) StartAll(name, mountPoint string, apps []container.ApplicationSpec) []supervisor.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	results := make([]supervisor.Result, 0, len(apps))
	for _, app := range apps {
		if app.Enabled && app.StartupCommand != "" {
			results = append(results, supervisor.Result{App: app.Name, Success: true, Message: "started"})
		}
	}
	return results
}

func (f *fakeRunner) StopAll(name string, apps []container.ApplicationSpec) []supervisor.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	results := make([]supervisor.Result, 0, len(apps))
	for _, app := range apps {
		if app.ShutdownCommand != "" {
			results = append(results, supervisor.Result{App: app.Name, Success: true, Message: "stopped"})
		}
	}
	return results
}

func (f *fakeRunner) Reachable(addr string) bool { return false }

type testEnv struct {
	mgr    *Manager
	driver *fakeDriver
	mounts *fakeMounter
	runner *fakeRunner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.BaseDir = filepath.Join(dir, "containers")
	cfg.MountDir = filepath.Join(dir, "mnt")
	cfg.Applications = []container.ApplicationSpec{
		{
			Name:            "navigator",
			StartupCommand:  "navigator serve",
			ShutdownCommand: "navigator stop",
			ProbeAddress:    "127.0.0.1:1", // nothing listens there
			Enabled:         true,
		},
	}

	logger := ui.NewLogger(false, true, true)
	env := &testEnv{
		mgr:    NewManager(cfg, system.NewExecutor(false, nil), logger),
		driver: newFakeDriver(),
		mounts: newFakeMounter(),
		runner: &fakeRunner{},
	}
	env.mgr.driver = env.driver
	env.mgr.mounts = env.mounts
	env.mgr.apps = env.runner
	env.mgr.pollDelay = time.Millisecond
	t.Cleanup(env.mgr.Shutdown)
	return env
}

func secret(s string) *system.SecureBytes {
	return system.NewSecureBytes([]byte(s))
}

func TestCreateMountVerifyRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.mgr

	cfg, err := mgr.Create("primary", secret("secret123"), 5<<30)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if len(cfg.Applications) != 1 {
		t.Errorf("sidecar applications = %d, want 1 seeded from catalog", len(cfg.Applications))
	}
	if cfg.AutoUnmountTimeoutMinutes != 15 {
		t.Errorf("sidecar timeout = %d, want 15", cfg.AutoUnmountTimeoutMinutes)
	}

	if _, err := mgr.Create("primary", secret("secret123"), 5<<30); !errors.Is(err, container.ErrAlreadyExists) {
		t.Errorf("second Create = %v, want ErrAlreadyExists", err)
	}

	if !mgr.VerifyPassword("primary", secret("secret123")) {
		t.Error("VerifyPassword = false for correct password")
	}
	if mgr.VerifyPassword("primary", secret("wrong")) {
		t.Error("VerifyPassword = true for wrong password")
	}

	if _, err := mgr.Mount("primary", secret("wrong")); !errors.Is(err, container.ErrWrongPassword) {
		t.Fatalf("Mount with wrong password = %v, want ErrWrongPassword", err)
	}

	mountPoint, err := mgr.Mount("primary", secret("secret123"))
	if err != nil {
		t.Fatalf("Mount failed: %v", err)
	}

	st := mgr.Status("primary")
	if !st.Mounted || st.MountPoint != mountPoint {
		t.Errorf("status after mount = %+v", st)
	}
	if st.EncryptionState != "open" {
		t.Errorf("encryption state = %q, want open", st.EncryptionState)
	}
	if st.Device == "" || st.LoopDevice == "" {
		t.Errorf("status misses device info while open: %+v", st)
	}
	if st.FilesystemBytes != 1<<30 || st.UsedBytes != 123456 {
		t.Errorf("filesystem usage = %d/%d, want 123456/%d", st.UsedBytes, st.FilesystemBytes, 1<<30)
	}
}

func TestCreateRollsBackWhenConfigSaveFails(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.mgr

	// A directory squatting on the sidecar path makes SaveConfig fail
	// after the backing file is already in place.
	if err := os.MkdirAll(filepath.Join(mgr.cfg.BaseDir, "primary.json"), 0700); err != nil {
		t.Fatal(err)
	}

	if _, err := mgr.Create("primary", secret("pw"), 1<<30); err == nil {
		t.Fatal("Create succeeded despite unsaveable config")
	}
	if _, err := os.Stat(filepath.Join(mgr.cfg.BaseDir, "primary.img")); !os.IsNotExist(err) {
		t.Error("backing file left behind after failed create")
	}
}

func TestListReportsAllContainers(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.mgr

	for _, name := range []string{"alpha", "beta"} {
		if _, err := mgr.Create(name, secret("pw"), 1<<30); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := mgr.Mount("beta", secret("pw")); err != nil {
		t.Fatal(err)
	}

	statuses, err := mgr.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("got %d statuses, want 2: %+v", len(statuses), statuses)
	}

	byName := make(map[string]Status, len(statuses))
	for _, st := range statuses {
		byName[st.Name] = st
	}
	if st := byName["alpha"]; !st.Exists || st.Mounted {
		t.Errorf("alpha status = %+v, want exists and unmounted", st)
	}
	if st := byName["beta"]; !st.Exists || !st.Mounted {
		t.Errorf("beta status = %+v, want exists and mounted", st)
	}
}

func TestMountNonexistent(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.mgr.Mount("primary", secret("x")); !errors.Is(err, container.ErrNotFound) {
		t.Errorf("Mount = %v, want ErrNotFound", err)
	}
}

func TestMountProvisionsApplicationDirs(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.mgr

	if _, err := mgr.Create("primary", secret("pw"), 1<<30); err != nil {
		t.Fatal(err)
	}
	mountPoint, err := mgr.Mount("primary", secret("pw"))
	if err != nil {
		t.Fatal(err)
	}

	for _, sub := range []string{"data", "logs"} {
		dir := filepath.Join(mountPoint, "apps", "navigator", sub)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("missing provisioned directory %s", dir)
		}
	}
}

func TestUnmountIdempotent(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.mgr

	if _, err := mgr.Create("primary", secret("pw"), 1<<30); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Mount("primary", secret("pw")); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := mgr.Unmount("primary"); err != nil {
			t.Fatalf("Unmount #%d failed: %v", i+1, err)
		}
	}

	st := mgr.Status("primary")
	if st.Mounted {
		t.Error("still mounted after Unmount")
	}
	if st.EncryptionState != "closed" {
		t.Errorf("encryption state = %q, want closed", st.EncryptionState)
	}
}

func TestConcurrentMountsExactlyOneSucceeds(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.mgr

	if _, err := mgr.Create("primary", secret("pw"), 1<<30); err != nil {
		t.Fatal(err)
	}

	const attempts = 4
	errYes := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Mount("primary", secret("pw"))
			errYes <- err
		}()
	}
	wg.Wait()
	close(errYes)

	var succeeded, alreadyMounted int
	for err := range errYes {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, container.ErrAlreadyMounted):
			alreadyMounted++
		default:
			t.Errorf("unexpected mount error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("%d mounts succeeded, want exactly 1", succeeded)
	}
	if alreadyMounted != attempts-1 {
		t.Errorf("%d mounts saw ErrAlreadyMounted, want %d", alreadyMounted, attempts-1)
	}
}

func TestStartRequiresMountAndConfig(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.mgr

	if _, err := mgr.StartApplications("primary"); !errors.Is(err, container.ErrNotMounted) {
		t.Errorf("Start unmounted = %v, want ErrNotMounted", err)
	}

	if _, err := mgr.Create("primary", secret("pw"), 1<<30); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Mount("primary", secret("pw")); err != nil {
		t.Fatal(err)
	}

	// Sidecar removed out from under us: start must refuse, not panic
	if err := os.Remove(filepath.Join(mgr.cfg.BaseDir, "primary.json")); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.StartApplications("primary"); !errors.Is(err, container.ErrNoConfig) {
		t.Errorf("Start without config = %v, want ErrNoConfig", err)
	}
}

func TestStartArmsMonitoringAndStopDisarms(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.mgr

	if _, err := mgr.Create("primary", secret("pw"), 1<<30); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Mount("primary", secret("pw")); err != nil {
		t.Fatal(err)
	}

	results, err := mgr.StartApplications("primary")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if len(results) != 1 || !results[0].Success {
		t.Errorf("start results = %+v", results)
	}
	if !mgr.Monitoring("primary") {
		t.Error("monitoring not armed after start")
	}

	st := mgr.Status("primary")
	if !st.MonitoringActive || st.LastActivity == nil {
		t.Errorf("status = %+v, want monitoring with activity record", st)
	}

	if _, err := mgr.StopApplications("primary"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if mgr.Monitoring("primary") {
		t.Error("monitoring still armed after stop")
	}
	if env.runner.stopped != 1 {
		t.Errorf("StopAll called %d times, want 1", env.runner.stopped)
	}
}

func TestStopWithoutConfigIsEmptySuccess(t *testing.T) {
	env := newTestEnv(t)

	results, err := env.mgr.StopApplications("primary")
	if err != nil {
		t.Fatalf("Stop = %v, want nil", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %+v, want empty", results)
	}
}

func TestAutoDismountSequence(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.mgr

	if _, err := mgr.Create("primary", secret("pw"), 1<<30); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Mount("primary", secret("pw")); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.StartApplications("primary"); err != nil {
		t.Fatal(err)
	}

	if err := mgr.AutoDismount("primary"); err != nil {
		t.Fatalf("AutoDismount failed: %v", err)
	}

	if env.runner.stopped != 1 {
		t.Errorf("StopAll called %d times, want 1", env.runner.stopped)
	}
	st := mgr.Status("primary")
	if st.Mounted {
		t.Error("still mounted after auto-dismount")
	}
	if st.EncryptionState != "closed" {
		t.Errorf("encryption state = %q, want closed", st.EncryptionState)
	}
}

func TestDeleteVerifiesPassword(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.mgr

	if _, err := mgr.Delete("primary", secret("pw")); !errors.Is(err, container.ErrNotFound) {
		t.Errorf("Delete nonexistent = %v, want ErrNotFound", err)
	}

	if _, err := mgr.Create("primary", secret("pw"), 1<<30); err != nil {
		t.Fatal(err)
	}

	if _, err := mgr.Delete("primary", secret("wrong")); !errors.Is(err, container.ErrWrongPassword) {
		t.Errorf("Delete with wrong password = %v, want ErrWrongPassword", err)
	}
	if !mgr.Status("primary").Exists {
		t.Fatal("container vanished after refused delete")
	}

	res, err := mgr.Delete("primary", secret("pw"))
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if res.Warning != "" {
		t.Errorf("unexpected warning: %s", res.Warning)
	}

	st := mgr.Status("primary")
	if st.Exists {
		t.Error("container still exists after delete")
	}
	if st.OrphanedConfig {
		t.Error("sidecar config left behind")
	}
}

func TestDeleteCleansOrphanedConfig(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.mgr

	if _, err := mgr.Create("primary", secret("pw"), 1<<30); err != nil {
		t.Fatal(err)
	}
	// Simulate an interrupted delete: backing file gone, config left
	if err := os.Remove(filepath.Join(mgr.cfg.BaseDir, "primary.img")); err != nil {
		t.Fatal(err)
	}
	if !mgr.Status("primary").OrphanedConfig {
		t.Fatal("expected orphaned config")
	}

	if _, err := mgr.Delete("primary", secret("anything")); err != nil {
		t.Fatalf("Delete of orphan failed: %v", err)
	}
	if mgr.Status("primary").OrphanedConfig {
		t.Error("orphaned config survived delete")
	}
}

func TestStatusDegradesForMissingContainer(t *testing.T) {
	env := newTestEnv(t)

	st := env.mgr.Status("primary")
	if st.Exists {
		t.Error("Exists = true for missing container")
	}
	if st.EncryptionState != "nonexistent" {
		t.Errorf("encryption state = %q, want nonexistent", st.EncryptionState)
	}
	if st.Mounted || st.MonitoringActive || st.Reachable {
		t.Errorf("status = %+v, want all-false snapshot", st)
	}
}

func TestTimeoutForFallsBack(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.mgr

	if _, err := mgr.Create("primary", secret("pw"), 1<<30); err != nil {
		t.Fatal(err)
	}

	cfg, err := mgr.store.LoadConfig("primary")
	if err != nil {
		t.Fatal(err)
	}
	cfg.AutoUnmountTimeoutMinutes = 45
	if err := mgr.store.SaveConfig(cfg); err != nil {
		t.Fatal(err)
	}
	if got := mgr.TimeoutFor("primary"); got != 45*time.Minute {
		t.Errorf("TimeoutFor = %s, want sidecar value 45m", got)
	}

	// Unreadable sidecar falls back to the operator default
	path := filepath.Join(mgr.cfg.BaseDir, "primary.json")
	if err := os.WriteFile(path, []byte("garbage"), 0600); err != nil {
		t.Fatal(err)
	}
	if got := mgr.TimeoutFor("primary"); got != mgr.cfg.DefaultTimeout() {
		t.Errorf("TimeoutFor with corrupt config = %s, want default %s", got, mgr.cfg.DefaultTimeout())
	}
}

func TestChangePasswordRequiresClosed(t *testing.T) {
	env := newTestEnv(t)
	mgr := env.mgr

	if _, err := mgr.Create("primary", secret("old"), 1<<30); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Mount("primary", secret("old")); err != nil {
		t.Fatal(err)
	}

	err := mgr.ChangePassword("primary", secret("old"), secret("new"))
	if !errors.Is(err, container.ErrAlreadyMounted) {
		t.Errorf("ChangePassword while open = %v, want ErrAlreadyMounted", err)
	}

	if err := mgr.Unmount("primary"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.ChangePassword("primary", secret("old"), secret("new")); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if !mgr.VerifyPassword("primary", secret("new")) {
		t.Error("new password not accepted")
	}
	if mgr.VerifyPassword("primary", secret("old")) {
		t.Error("old password still accepted")
	}
}
