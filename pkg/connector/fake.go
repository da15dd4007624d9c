package connector

import (
	"context"
	"sync"

	"github.com/dreyhq/drey/pkg/types"
)

// Fake is an in-memory Connector for tests. Zero value is ready to use.
type Fake struct {
	mu sync.Mutex

	// Users materialized on the fake resource, by username
	Users map[string]UserSpec
	// Config accumulated through UpdateConfig
	Config map[string]any
	// Stats returned from CollectStats
	Stats types.Metrics
	// BackupPath returned from TriggerBackup
	BackupPath string

	// Err makes every operation fail with this error when set
	Err error

	// Call log: operation names in invocation order
	CallLog []string
}

// FakeFactory returns a Factory that always yields f
func FakeFactory(f *Fake) Factory {
	return func(info *types.ConnectionInfo, creds map[string]string) (Connector, error) {
		return f, nil
	}
}

func (f *Fake) record(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CallLog = append(f.CallLog, op)
	return f.Err
}

// Calls returns how many times op was invoked
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.CallLog {
		if c == op {
			n++
		}
	}
	return n
}

func (f *Fake) TestConnection(ctx context.Context) error {
	return f.record("TestConnection")
}

func (f *Fake) UserExists(ctx context.Context, username string) (bool, error) {
	if err := f.record("UserExists"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Users[username]
	return ok, nil
}

func (f *Fake) CreateUser(ctx context.Context, spec UserSpec) error {
	if err := f.record("CreateUser"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Users == nil {
		f.Users = make(map[string]UserSpec)
	}
	f.Users[spec.Username] = spec
	return nil
}

func (f *Fake) UpdateUser(ctx context.Context, username string, spec UserSpec) error {
	if err := f.record("UpdateUser"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Users == nil {
		f.Users = make(map[string]UserSpec)
	}
	f.Users[username] = spec
	return nil
}

func (f *Fake) DeleteUser(ctx context.Context, username string) error {
	if err := f.record("DeleteUser"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Users, username)
	return nil
}

func (f *Fake) UpdateConfig(ctx context.Context, params map[string]any) error {
	if err := f.record("UpdateConfig"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Config == nil {
		f.Config = make(map[string]any)
	}
	for k, v := range params {
		f.Config[k] = v
	}
	return nil
}

func (f *Fake) ReloadConfig(ctx context.Context) error {
	return f.record("ReloadConfig")
}

func (f *Fake) TriggerBackup(ctx context.Context, location string, opts BackupOptions) (string, error) {
	if err := f.record("TriggerBackup"); err != nil {
		return "", err
	}
	if f.BackupPath != "" {
		return f.BackupPath, nil
	}
	return location + "/backup.dump", nil
}

func (f *Fake) RestoreBackup(ctx context.Context, location string, opts BackupOptions) error {
	return f.record("RestoreBackup")
}

func (f *Fake) CollectStats(ctx context.Context) (types.Metrics, error) {
	if err := f.record("CollectStats"); err != nil {
		return nil, err
	}
	return f.Stats, nil
}

func (f *Fake) Close() error { return nil }
