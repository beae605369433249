package artifact

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/S-Ungurean/healthdeploy/internal/config"
)

// fakeS3 answers the bucket-existence probe and records bucket creations.
type fakeS3 struct {
	mu      sync.Mutex
	exists  bool
	created []string
}

func (f *fakeS3) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodHead:
			if f.exists {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusNotFound)
			}
		case http.MethodPut:
			f.created = append(f.created, r.URL.Path)
			f.exists = true
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
}

func storeConfig(endpoint string) config.Config {
	var cfg config.Config
	cfg.Store.Endpoint = strings.TrimPrefix(endpoint, "http://")
	cfg.Store.AccessKey = "test-access"
	cfg.Store.SecretKey = "test-secret"
	cfg.ApplyDefaults()
	return cfg
}

func TestNewMinioStoreCreatesMissingBucket(t *testing.T) {
	s3 := &fakeS3{}
	srv := httptest.NewServer(s3.handler())
	defer srv.Close()

	if _, err := NewMinioStore(storeConfig(srv.URL)); err != nil {
		t.Fatalf("NewMinioStore failed: %v", err)
	}

	s3.mu.Lock()
	defer s3.mu.Unlock()
	if len(s3.created) != 1 {
		t.Fatalf("expected one bucket creation, got %v", s3.created)
	}
	if strings.Trim(s3.created[0], "/") != "health-artifacts" {
		t.Fatalf("created wrong bucket: %s", s3.created[0])
	}
}

func TestNewMinioStoreKeepsExistingBucket(t *testing.T) {
	s3 := &fakeS3{exists: true}
	srv := httptest.NewServer(s3.handler())
	defer srv.Close()

	if _, err := NewMinioStore(storeConfig(srv.URL)); err != nil {
		t.Fatalf("NewMinioStore failed: %v", err)
	}

	s3.mu.Lock()
	defer s3.mu.Unlock()
	if len(s3.created) != 0 {
		t.Fatalf("bucket recreated despite existing: %v", s3.created)
	}
}
