package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jobforge/jobforge/pkg/assemble"
	"github.com/jobforge/jobforge/pkg/render"
)

func managedSpec(name string) assemble.ResourceSpec {
	return assemble.ResourceSpec{
		Kind: assemble.ResourceJob,
		Name: name,
		Body: map[string]interface{}{"name": name},
	}
}

// fakeServer is a minimal Jenkins-style endpoint surface for tests.
type fakeServer struct {
	jobs map[string][]byte // name -> stored document
}

func newFakeServer() *fakeServer {
	return &fakeServer{jobs: map[string][]byte{}}
}

func (s *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/json", func(w http.ResponseWriter, r *http.Request) {
		var entries []string
		for name := range s.jobs {
			entries = append(entries, fmt.Sprintf("{\"name\":%q}", name))
		}
		fmt.Fprintf(w, "{\"jobs\":[%s]}", strings.Join(entries, ","))
	})
	mux.HandleFunc("/createItem", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if _, exists := s.jobs[name]; exists {
			http.Error(w, "already exists", http.StatusBadRequest)
			return
		}
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		s.jobs[name] = body
	})
	mux.HandleFunc("/job/", func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/job/"), "/")
		if len(parts) != 2 {
			http.NotFound(w, r)
			return
		}
		name, action := parts[0], parts[1]
		document, exists := s.jobs[name]
		switch {
		case action == "config.xml" && r.Method == http.MethodGet:
			if !exists {
				http.NotFound(w, r)
				return
			}
			w.Write(document)
		case action == "config.xml" && r.Method == http.MethodPost:
			if !exists {
				http.NotFound(w, r)
				return
			}
			body := make([]byte, r.ContentLength)
			r.Body.Read(body)
			s.jobs[name] = body
		case action == "doDelete":
			if !exists {
				http.NotFound(w, r)
				return
			}
			delete(s.jobs, name)
		default:
			http.NotFound(w, r)
		}
	})
	return mux
}

func testClient(t *testing.T, url string) *HTTPClient {
	t.Helper()
	client, err := NewJobClient(HTTPConfig{URL: url, User: "ci", APIToken: "token", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

// TestCreateUpdateDelete tests the CRUD round trip against a fake server
func TestCreateUpdateDelete(t *testing.T) {
	server := newFakeServer()
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	client := testClient(t, ts.URL)
	ctx := context.Background()

	if err := client.Create(ctx, "build", []byte("<project>v1</project>")); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if string(server.jobs["build"]) != "<project>v1</project>" {
		t.Errorf("unexpected stored document: %s", server.jobs["build"])
	}

	if err := client.Update(ctx, "build", []byte("<project>v2</project>")); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if string(server.jobs["build"]) != "<project>v2</project>" {
		t.Errorf("update did not replace the document: %s", server.jobs["build"])
	}

	if err := client.Delete(ctx, "build"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, exists := server.jobs["build"]; exists {
		t.Error("document should be gone after delete")
	}
}

// TestListManagedFlag tests that List reads stored documents to detect
// the managed marker
func TestListManagedFlag(t *testing.T) {
	server := newFakeServer()
	server.jobs["hand-made"] = []byte("<project><description>mine</description></project>")
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	client := testClient(t, ts.URL)
	ctx := context.Background()

	managed, err := render.NewRegistry().Render(managedSpec("tool-made"))
	if err != nil {
		t.Fatalf("failed to render: %v", err)
	}
	if err := client.Create(ctx, "tool-made", managed); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	resources, err := client.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	byName := map[string]bool{}
	for _, resource := range resources {
		byName[resource.Name] = resource.Managed
	}
	if len(byName) != 2 {
		t.Fatalf("expected 2 resources, got %v", byName)
	}
	if byName["hand-made"] {
		t.Error("hand-made resource must not report managed")
	}
	if !byName["tool-made"] {
		t.Error("tool-made resource must report managed")
	}
}

// TestStatusErrorsArePerItem tests HTTP error classification
func TestStatusErrorsArePerItem(t *testing.T) {
	server := newFakeServer()
	ts := httptest.NewServer(server.handler())
	defer ts.Close()

	client := testClient(t, ts.URL)
	err := client.Update(context.Background(), "does-not-exist", []byte("<project/>"))
	if err == nil {
		t.Fatal("expected error for missing resource")
	}

	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %T", err)
	}
	if callErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", callErr.StatusCode)
	}
	if IsConnectivity(err) {
		t.Error("a status error must not count as connectivity failure")
	}
}

// TestConnectivityClassification tests that a refused connection is a
// connectivity-class failure
func TestConnectivityClassification(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close() // nothing listens here anymore

	client := testClient(t, url)
	_, err := client.List(context.Background())
	if err == nil {
		t.Fatal("expected error against a closed server")
	}
	if !IsConnectivity(err) {
		t.Errorf("expected connectivity-class failure, got %v", err)
	}
}

// TestBasicAuth tests that credentials are sent on every call
func TestBasicAuth(t *testing.T) {
	var gotUser, gotPass string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		fmt.Fprint(w, "{\"jobs\":[]}")
	}))
	defer ts.Close()

	client := testClient(t, ts.URL)
	if _, err := client.List(context.Background()); err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if gotUser != "ci" || gotPass != "token" {
		t.Errorf("expected basic auth ci/token, got %s/%s", gotUser, gotPass)
	}
}

// TestNameEscaping tests that awkward resource names survive URL building
func TestNameEscaping(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
	}))
	defer ts.Close()

	client := testClient(t, ts.URL)
	if err := client.Delete(context.Background(), "job with spaces/and slash"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if strings.Contains(gotPath, " ") {
		t.Errorf("name not escaped in path: %s", gotPath)
	}
	if !strings.HasPrefix(gotPath, "/job/") || !strings.HasSuffix(gotPath, "/doDelete") {
		t.Errorf("unexpected path shape: %s", gotPath)
	}
}
