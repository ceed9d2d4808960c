/* SPDX-License-Identifier: MPL-2.0
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package device

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jmtalk/jmtalk-go-sdk/v2/jmtalksdk"
)

func newTestServer(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	registrations := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/devices", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		registrations++
		var body registerRequest
		_ = json.NewDecoder(r.Body).Decode(&body)

		w.Header().Set("ETag", `"v1"`)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Registration{
			URL:          "http://" + r.Host + "/devices/dev-1",
			WebSocketURL: "wss://channel.example/messaging/dev-1",
			Resource:     "mobile-4f2a",
			TTL:          body.TTL,
		})
	})
	mux.HandleFunc("/devices/dev-1", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		case http.MethodPut:
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(Registration{
				URL:          "http://" + r.Host + "/devices/dev-1",
				WebSocketURL: "wss://channel.example/messaging/dev-1",
				Resource:     "mobile-4f2a",
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	server := httptest.NewServer(mux)
	return server, &registrations
}

func newTestCore(t *testing.T, baseURL string) *jmtalksdk.Client {
	t.Helper()
	core, err := jmtalksdk.NewClient("test-token", &jmtalksdk.Config{
		BaseURL: baseURL,
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create core client: %v", err)
	}
	core.SetAddress("alice@jmtalk.io")
	return core
}

func TestRegister(t *testing.T) {
	server, registrations := newTestServer(t)
	defer server.Close()

	core := newTestCore(t, server.URL)
	client := New(core, nil)

	if client.IsRegistered() {
		t.Error("Expected unregistered client initially")
	}

	if err := client.Register(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !client.IsRegistered() {
		t.Error("Expected client to be registered")
	}
	if *registrations != 1 {
		t.Errorf("Expected 1 registration request, got %d", *registrations)
	}

	// Registration binds the resource to the core client's address
	if core.Address() != "alice@jmtalk.io/mobile-4f2a" {
		t.Errorf("Expected full address after registration, got %s", core.Address())
	}

	reg := client.GetRegistration()
	if reg == nil {
		t.Fatal("Expected a registration")
	}
	if reg.WebSocketURL != "wss://channel.example/messaging/dev-1" {
		t.Errorf("Unexpected websocket URL %q", reg.WebSocketURL)
	}
	if reg.ETag != `"v1"` {
		t.Errorf("Expected ETag to be captured, got %q", reg.ETag)
	}

	// Register is idempotent
	if err := client.Register(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if *registrations != 1 {
		t.Errorf("Expected no second registration request, got %d", *registrations)
	}
}

func TestRegisterFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message": "bad token"}`))
	}))
	defer server.Close()

	client := New(newTestCore(t, server.URL), nil)

	err := client.Register()
	if err == nil {
		t.Fatal("Expected registration error")
	}
	if !jmtalksdk.IsAuthFailure(err) {
		t.Errorf("Expected auth failure, got %v", err)
	}
	if client.IsRegistered() {
		t.Error("Expected client to stay unregistered")
	}
}

func TestGetWebSocketURLRegistersOnDemand(t *testing.T) {
	server, registrations := newTestServer(t)
	defer server.Close()

	client := New(newTestCore(t, server.URL), nil)

	wsURL, err := client.GetWebSocketURL()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if wsURL != "wss://channel.example/messaging/dev-1" {
		t.Errorf("Unexpected websocket URL %q", wsURL)
	}
	if *registrations != 1 {
		t.Errorf("Expected on-demand registration, got %d requests", *registrations)
	}
}

func TestUnregister(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	client := New(newTestCore(t, server.URL), nil)
	if err := client.Register(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if err := client.Unregister(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if client.IsRegistered() {
		t.Error("Expected client to be unregistered")
	}
	if client.GetRegistration() != nil {
		t.Error("Expected registration to be cleared")
	}

	// Unregistering twice is a no-op
	if err := client.Unregister(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func TestOnRegistered(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	client := New(newTestCore(t, server.URL), nil)

	called := make(chan struct{})
	client.OnRegistered(func() {
		close(called)
	})

	if err := client.Register(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("Registration callback never fired")
	}

	// Late subscribers fire immediately
	late := make(chan struct{})
	client.OnRegistered(func() {
		close(late)
	})
	select {
	case <-late:
	case <-time.After(2 * time.Second):
		t.Fatal("Late registration callback never fired")
	}
}

func TestOnRegisteredFiresOncePerSubscription(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	client := New(newTestCore(t, server.URL), nil)

	fired := make(chan struct{}, 4)
	client.OnRegistered(func() {
		fired <- struct{}{}
	})

	if err := client.Register(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("Registration callback never fired")
	}

	// A re-registration cycle must not fire the consumed callback again
	if err := client.Unregister(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := client.Register(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	select {
	case <-fired:
		t.Error("Expected callback to fire only once")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWaitForRegistrationSurvivesReRegistration(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	client := New(newTestCore(t, server.URL), nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = client.Register()
	}()
	if err := client.WaitForRegistration(2 * time.Second); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// The waiter's callback was consumed; registering again must not
	// reach it a second time
	if err := client.Unregister(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := client.Register(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
}

func TestWaitForRegistration(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	client := New(newTestCore(t, server.URL), nil)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = client.Register()
	}()

	if err := client.WaitForRegistration(2 * time.Second); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func TestWaitForRegistrationTimeout(t *testing.T) {
	server, _ := newTestServer(t)
	defer server.Close()

	client := New(newTestCore(t, server.URL), nil)

	if err := client.WaitForRegistration(50 * time.Millisecond); err == nil {
		t.Fatal("Expected timeout error")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Ephemeral {
		t.Error("Expected non-ephemeral default")
	}
	if cfg.EphemeralTTL != 86400 {
		t.Errorf("Expected 86400s TTL, got %d", cfg.EphemeralTTL)
	}
	if cfg.DeviceType != "GO_SDK" {
		t.Errorf("Expected GO_SDK device type, got %q", cfg.DeviceType)
	}
}
