package credentials

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeStore struct {
	loadFn    func(ctx context.Context, key string) (map[string]string, error)
	saveFn    func(ctx context.Context, key string, fields map[string]string) error
	loadCalls int
}

func (f *fakeStore) Load(ctx context.Context, key string) (map[string]string, error) {
	f.loadCalls++
	if f.loadFn == nil {
		return nil, nil
	}
	return f.loadFn(ctx, key)
}

func (f *fakeStore) Save(ctx context.Context, key string, fields map[string]string) error {
	if f.saveFn == nil {
		return nil
	}
	return f.saveFn(ctx, key, fields)
}

func TestAccessorGetMissingReturnsDefault(t *testing.T) {
	t.Parallel()

	accessor, err := NewAccessor("twilio", NewMemoryStore(), TwilioFromFields, zap.NewNop())
	if err != nil {
		t.Fatalf("NewAccessor() error = %v", err)
	}

	got := accessor.Get(context.Background())
	if got != (TwilioCredentials{}) {
		t.Fatalf("Get() = %+v, want empty default", got)
	}
	if accessor.IsComplete(context.Background()) {
		t.Fatal("IsComplete() = true, want false for empty default")
	}
}

func TestAccessorGetStoreErrorDegradesToDefault(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.WarnLevel)
	store := &fakeStore{
		loadFn: func(ctx context.Context, key string) (map[string]string, error) {
			return nil, errors.New("connection refused")
		},
	}

	accessor, err := NewAccessor("emailjs", store, EmailJSFromFields, zap.New(core))
	if err != nil {
		t.Fatalf("NewAccessor() error = %v", err)
	}

	if got := accessor.Get(context.Background()); got != (EmailJSCredentials{}) {
		t.Fatalf("Get() = %+v, want empty default", got)
	}
	if recorded.Len() != 1 {
		t.Fatalf("warn entries = %d, want 1", recorded.Len())
	}

	// failures are not cached
	accessor.Get(context.Background())
	if store.loadCalls != 2 {
		t.Fatalf("load calls = %d, want 2", store.loadCalls)
	}
}

func TestAccessorCachesUntilRefresh(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		loadFn: func(ctx context.Context, key string) (map[string]string, error) {
			return map[string]string{"account_sid": "AC1", "auth_token": "tok", "from_number": "+41790000000"}, nil
		},
	}

	accessor, err := NewAccessor("twilio", store, TwilioFromFields, nil)
	if err != nil {
		t.Fatalf("NewAccessor() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if !accessor.IsComplete(context.Background()) {
			t.Fatal("IsComplete() = false, want true")
		}
	}
	if store.loadCalls != 1 {
		t.Fatalf("load calls = %d, want 1", store.loadCalls)
	}

	accessor.Refresh()
	accessor.Get(context.Background())
	if store.loadCalls != 2 {
		t.Fatalf("load calls after refresh = %d, want 2", store.loadCalls)
	}
}

func TestAccessorPut(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	accessor, err := NewAccessor("ses", store, SESFromFields, nil)
	if err != nil {
		t.Fatalf("NewAccessor() error = %v", err)
	}

	creds := SESCredentials{
		AccessKeyID:     "AKIA",
		SecretAccessKey: "secret",
		Region:          "eu-central-1",
		FromAddress:     "news@example.com",
	}
	if !accessor.Put(context.Background(), creds) {
		t.Fatal("Put() = false, want true")
	}
	if got := accessor.Get(context.Background()); got != creds {
		t.Fatalf("Get() = %+v, want %+v", got, creds)
	}

	stored, err := store.Load(context.Background(), "ses")
	if err != nil {
		t.Fatalf("store.Load() error = %v", err)
	}
	if stored["from_address"] != "news@example.com" {
		t.Fatalf("stored from_address = %q", stored["from_address"])
	}
}

func TestAccessorGetDoesNotOverwriteConcurrentPut(t *testing.T) {
	t.Parallel()

	old := map[string]string{"account_sid": "AC-OLD", "auth_token": "old", "from_number": "+41790000000"}
	loading := make(chan struct{})
	release := make(chan struct{})
	store := &fakeStore{
		loadFn: func(ctx context.Context, key string) (map[string]string, error) {
			close(loading)
			<-release
			return old, nil
		},
	}

	accessor, err := NewAccessor("twilio", store, TwilioFromFields, nil)
	if err != nil {
		t.Fatalf("NewAccessor() error = %v", err)
	}

	stale := make(chan TwilioCredentials, 1)
	go func() { stale <- accessor.Get(context.Background()) }()
	<-loading

	updated := TwilioCredentials{AccountSID: "AC-NEW", AuthToken: "new", FromNumber: "+41790000001"}
	if !accessor.Put(context.Background(), updated) {
		t.Fatal("Put() = false, want true")
	}

	close(release)
	if got := <-stale; got.AccountSID != "AC-OLD" {
		t.Fatalf("in-flight Get() = %+v, want the value it loaded", got)
	}

	if got := accessor.Get(context.Background()); got != updated {
		t.Fatalf("Get() after Put = %+v, want %+v", got, updated)
	}
}

func TestAccessorPutFailureReturnsFalse(t *testing.T) {
	t.Parallel()

	store := &fakeStore{
		saveFn: func(ctx context.Context, key string, fields map[string]string) error {
			return errors.New("read-only")
		},
	}
	accessor, err := NewAccessor("twilio", store, TwilioFromFields, nil)
	if err != nil {
		t.Fatalf("NewAccessor() error = %v", err)
	}

	if accessor.Put(context.Background(), TwilioCredentials{AccountSID: "AC1"}) {
		t.Fatal("Put() = true, want false")
	}
	if got := accessor.Get(context.Background()); got.AccountSID != "" {
		t.Fatalf("Get() after failed Put = %+v, want default", got)
	}
}

func TestNewAccessorValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewAccessor("", NewMemoryStore(), TwilioFromFields, nil); err == nil {
		t.Fatal("expected error for empty key")
	}
	if _, err := NewAccessor[TwilioCredentials]("twilio", nil, TwilioFromFields, nil); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewAccessor[TwilioCredentials]("twilio", NewMemoryStore(), nil, nil); err == nil {
		t.Fatal("expected error for nil decoder")
	}
}

func TestAccessorPutFieldsKeepsMaskedSecrets(t *testing.T) {
	t.Parallel()

	accessor, err := NewAccessor("twilio", NewMemoryStore(), TwilioFromFields, nil)
	if err != nil {
		t.Fatalf("NewAccessor() error = %v", err)
	}

	if !accessor.Put(context.Background(), TwilioCredentials{AccountSID: "AC1", AuthToken: "secret", FromNumber: "+41790000000"}) {
		t.Fatal("Put() = false, want true")
	}

	masked := accessor.MaskedFields(context.Background())
	if masked["auth_token"] != maskedValue {
		t.Fatalf("masked auth_token = %q, want %q", masked["auth_token"], maskedValue)
	}

	masked["from_number"] = " +41791111111 "
	masked["unknown"] = "ignored"
	if !accessor.PutFields(context.Background(), masked) {
		t.Fatal("PutFields() = false, want true")
	}

	got := accessor.Get(context.Background())
	want := TwilioCredentials{AccountSID: "AC1", AuthToken: "secret", FromNumber: "+41791111111"}
	if got != want {
		t.Fatalf("Get() = %+v, want %+v", got, want)
	}
}
