package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"

	appconfig "github.com/wolfman30/loan-sales-assistant/internal/config"
	"github.com/wolfman30/loan-sales-assistant/internal/notify"
	"github.com/wolfman30/loan-sales-assistant/internal/sanction"
	"github.com/wolfman30/loan-sales-assistant/internal/sessions"
	"github.com/wolfman30/loan-sales-assistant/internal/statestore"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

func TestBuildRedisClientDisabled(t *testing.T) {
	if client := BuildRedisClient(context.Background(), &appconfig.Config{}, logging.New("error"), true); client != nil {
		t.Fatalf("expected nil client without an address")
	}
}

func TestBuildRedisClientVerifies(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &appconfig.Config{RedisAddr: mr.Addr()}

	client := BuildRedisClient(context.Background(), cfg, logging.New("error"), true)
	if client == nil {
		t.Fatalf("expected client")
	}
	defer client.Close()

	mr.Close()
	if client := BuildRedisClient(context.Background(), cfg, logging.New("error"), true); client != nil {
		t.Fatalf("expected nil client when redis is down")
	}
}

func TestBuildSessionStores(t *testing.T) {
	logger := logging.New("error")

	stores, err := BuildSessionStores(&appconfig.Config{StateBackend: "file", StateDir: t.TempDir()}, aws.Config{}, nil, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := stores.(*sessions.FileStores); !ok {
		t.Fatalf("expected FileStores, got %T", stores)
	}

	if _, err := BuildSessionStores(&appconfig.Config{StateBackend: "redis"}, aws.Config{}, nil, logger); err == nil {
		t.Fatalf("expected error for redis backend without a client")
	}

	stores, err = BuildSessionStores(&appconfig.Config{StateBackend: "dynamodb", DynamoStateTable: "state"}, aws.Config{Region: "ap-south-1"}, nil, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := stores.(sessions.DynamoStores); !ok {
		t.Fatalf("expected DynamoStores, got %T", stores)
	}

	if _, err := BuildSessionStores(&appconfig.Config{StateBackend: "etcd"}, aws.Config{}, nil, logger); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

func TestBuildStateSourcePrefersFile(t *testing.T) {
	logger := logging.New("error")
	stores := sessions.NewFileStores(t.TempDir(), logger)

	src, fs := BuildStateSource(stores, filepath.Join(t.TempDir(), "state.json"), logger)
	if fs == nil {
		t.Fatalf("expected file store")
	}
	if _, ok := src.(statestore.Single); !ok {
		t.Fatalf("expected Single source, got %T", src)
	}

	src, fs = BuildStateSource(stores, "  ", logger)
	if fs != nil {
		t.Fatalf("expected no file store")
	}
	if src != stores.Source() {
		t.Fatalf("expected the session source")
	}
}

func TestBuildLLMClientUnconfigured(t *testing.T) {
	client, err := BuildLLMClient(context.Background(), &appconfig.Config{}, aws.Config{}, nil, logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client != nil {
		t.Fatalf("expected nil client, got %T", client)
	}
}

func TestBuildLLMClientRequiresConfig(t *testing.T) {
	if _, err := BuildLLMClient(context.Background(), nil, aws.Config{}, nil, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}
}

func TestBuildRules(t *testing.T) {
	if _, err := BuildRules(&appconfig.Config{}, logging.New("error")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := BuildRules(&appconfig.Config{PolicyFile: filepath.Join(t.TempDir(), "missing.yaml")}, nil); err == nil {
		t.Fatalf("expected error for missing policy file")
	}
}

func TestDriverOptionsWithoutCollaborators(t *testing.T) {
	opts := DriverOptions(&appconfig.Config{LoopGuardLimit: 10}, nil, nil, nil, logging.New("error"))
	if len(opts) != 4 {
		t.Fatalf("expected 4 options, got %d", len(opts))
	}
}

func TestBuildLetterStore(t *testing.T) {
	store := BuildLetterStore(&appconfig.Config{DocumentDir: t.TempDir()}, aws.Config{}, logging.New("error"))
	if _, ok := store.(*sanction.LocalStore); !ok {
		t.Fatalf("expected LocalStore, got %T", store)
	}
	store = BuildLetterStore(&appconfig.Config{DocumentBucket: "letters"}, aws.Config{Region: "ap-south-1"}, logging.New("error"))
	if _, ok := store.(*sanction.S3Store); !ok {
		t.Fatalf("expected S3Store, got %T", store)
	}
}

func TestBuildEmailSenderSelection(t *testing.T) {
	logger := logging.New("error")
	tests := []struct {
		name string
		cfg  appconfig.Config
		want string
	}{
		{"sendgrid", appconfig.Config{SendGridAPIKey: "key", SendGridFromEmail: "loans@example.com"}, "*notify.SendGridSender"},
		{"ses", appconfig.Config{SESFromEmail: "loans@example.com"}, "*notify.SESSender"},
		{"stub", appconfig.Config{}, "*notify.StubEmailSender"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := BuildEmailSender(&tt.cfg, aws.Config{Region: "ap-south-1"}, logger)
			var got string
			switch sender.(type) {
			case *notify.SendGridSender:
				got = "*notify.SendGridSender"
			case *notify.SESSender:
				got = "*notify.SESSender"
			case *notify.StubEmailSender:
				got = "*notify.StubEmailSender"
			}
			if got != tt.want {
				t.Fatalf("expected %s, got %T", tt.want, sender)
			}
		})
	}
}

func TestBuildArchiverWithoutSinks(t *testing.T) {
	a, pg, err := BuildArchiver(context.Background(), &appconfig.Config{}, aws.Config{}, nil, logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != nil || pg != nil {
		t.Fatalf("expected archive disabled")
	}
}

func TestBuildArchiverWithBucket(t *testing.T) {
	a, pg, err := BuildArchiver(context.Background(), &appconfig.Config{ArchiveBucket: "archive"}, aws.Config{Region: "ap-south-1"}, nil, logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a == nil {
		t.Fatalf("expected archiver")
	}
	if pg != nil {
		t.Fatalf("expected no postgres log")
	}
}

func TestBuildRunners(t *testing.T) {
	cfg := &appconfig.Config{DocumentDir: t.TempDir(), VerifierSeed: 7}
	src := statestore.Single{}

	if got := BuildRunners(cfg, aws.Config{}, src, nil, logging.New("error")); len(got) != 2 {
		t.Fatalf("expected both workers, got %d", len(got))
	}
	if got := BuildRunners(cfg, aws.Config{}, src, nil, logging.New("error"), WorkerDocuments, "bogus"); len(got) != 1 {
		t.Fatalf("expected one worker, got %d", len(got))
	}
}
