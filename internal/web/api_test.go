package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/sweeney/valve-panel/internal/gpio"
)

type apiResponse struct {
	Success  bool   `json:"success"`
	RelayNum int    `json:"relay_num"`
	State    bool   `json:"state"`
	Locked   bool   `json:"locked"`
	Message  string `json:"message"`
	Relays   []struct {
		RelayNum   int    `json:"relay_num"`
		Name       string `json:"name"`
		State      bool   `json:"state"`
		Locked     bool   `json:"locked"`
		StatusText string `json:"status_text"`
	} `json:"relays"`
}

func post(t *testing.T, env *testEnv, path, body string) (int, apiResponse) {
	t.Helper()
	resp, err := http.Post(env.ts.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(t, resp)
}

func get(t *testing.T, env *testEnv, path string) (int, apiResponse) {
	t.Helper()
	resp, err := http.Get(env.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	return decodeResponse(t, resp)
}

func decodeResponse(t *testing.T, resp *http.Response) (int, apiResponse) {
	t.Helper()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}
	var out apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp.StatusCode, out
}

func TestStatusInitial(t *testing.T) {
	env := newTestEnv(t)

	code, res := get(t, env, "/api/relay/status")
	if code != 200 || !res.Success {
		t.Fatalf("got %d %+v", code, res)
	}
	if len(res.Relays) != 2 {
		t.Fatalf("relays: got %d, want 2", len(res.Relays))
	}
	for i, r := range res.Relays {
		if r.RelayNum != i || r.State || r.Locked || r.StatusText != "Close" {
			t.Errorf("relay %d: got %+v", i, r)
		}
	}
	if res.Relays[0].Name != "GV Upstream" {
		t.Errorf("relay 0 name: got %q", res.Relays[0].Name)
	}
}

func TestGetSingleValve(t *testing.T) {
	env := newTestEnv(t)
	env.registry.SetOpen(context.Background(), 1, true)

	resp, err := http.Get(env.ts.URL + "/api/relay/1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Success bool `json:"success"`
		Relay   struct {
			Name       string `json:"name"`
			State      bool   `json:"state"`
			StatusText string `json:"status_text"`
		} `json:"relay"`
	}
	json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != 200 || !body.Success {
		t.Fatalf("got %d %+v", resp.StatusCode, body)
	}
	if body.Relay.Name != "GV Downstream" || !body.Relay.State || body.Relay.StatusText != "Open" {
		t.Errorf("relay: got %+v", body.Relay)
	}

	if code, res := get(t, env, "/api/relay/7"); code != 400 || res.Message != "Invalid gate valve number." {
		t.Errorf("out of range: got %d %+v", code, res)
	}
}

func TestToggle(t *testing.T) {
	env := newTestEnv(t)

	code, res := post(t, env, "/api/relay/1/toggle", "")
	if code != 200 {
		t.Fatalf("status: got %d, want 200", code)
	}
	if !res.Success || res.RelayNum != 1 || !res.State || res.Message != "GV Downstream Open" {
		t.Errorf("got %+v", res)
	}

	_, res = post(t, env, "/api/relay/1/toggle", "")
	if res.State || res.Message != "GV Downstream Close" {
		t.Errorf("second toggle: got %+v", res)
	}

	calls := env.driver.Recorded()
	if len(calls) != 2 || calls[0] != (gpio.Call{Index: 1, Open: true}) || calls[1] != (gpio.Call{Index: 1, Open: false}) {
		t.Errorf("driver calls: got %+v", calls)
	}
}

func TestInvalidValveNumber(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{
		"/api/relay/2/toggle",
		"/api/relay/-1/toggle",
		"/api/relay/abc/toggle",
		"/api/relay/5/lock",
		"/api/relay/x/lock",
	} {
		code, res := post(t, env, path, "")
		if code != 400 || res.Success || res.Message != "Invalid gate valve number." {
			t.Errorf("%s: got %d %+v", path, code, res)
		}
	}
	if len(env.driver.Recorded()) != 0 {
		t.Error("driver should not be called for invalid indices")
	}
}

func TestSet(t *testing.T) {
	env := newTestEnv(t)

	code, res := post(t, env, "/api/relay/0/set", `{"state": true}`)
	if code != 200 || !res.Success || !res.State || res.Message != "GV Upstream Open" {
		t.Fatalf("got %d %+v", code, res)
	}

	// Same value still drives the pin.
	post(t, env, "/api/relay/0/set", `{"state": true}`)
	if n := len(env.driver.Recorded()); n != 2 {
		t.Errorf("driver calls: got %d, want 2", n)
	}

	code, res = post(t, env, "/api/relay/0/set", `{"state": false}`)
	if code != 200 || res.State || res.Message != "GV Upstream Close" {
		t.Errorf("got %d %+v", code, res)
	}
}

func TestSetStateRequired(t *testing.T) {
	env := newTestEnv(t)

	for _, body := range []string{``, `{}`, `{"state": null}`, `not json`, `{"state": "yes"}`} {
		code, res := post(t, env, "/api/relay/0/set", body)
		if code != 400 || res.Message != "State value is required." {
			t.Errorf("body %q: got %d %+v", body, code, res)
		}
	}

	// Missing state is reported before the index is checked.
	code, res := post(t, env, "/api/relay/9/set", `{}`)
	if code != 400 || res.Message != "State value is required." {
		t.Errorf("got %d %+v", code, res)
	}
	code, res = post(t, env, "/api/relay/9/set", `{"state": true}`)
	if code != 400 || res.Message != "Invalid gate valve number." {
		t.Errorf("got %d %+v", code, res)
	}
}

func TestLockedValveRejected(t *testing.T) {
	env := newTestEnv(t)

	code, res := post(t, env, "/api/relay/1/lock", "")
	if code != 200 || !res.Locked || res.Message != "GV Downstream Locked" {
		t.Fatalf("lock: got %d %+v", code, res)
	}

	for _, req := range []struct{ path, body string }{
		{"/api/relay/1/toggle", ""},
		{"/api/relay/1/set", `{"state": true}`},
	} {
		code, res := post(t, env, req.path, req.body)
		if code != 403 || res.Success || res.Message != "GV Downstream is locked and cannot be controlled." {
			t.Errorf("%s: got %d %+v", req.path, code, res)
		}
	}
	if len(env.driver.Recorded()) != 0 {
		t.Error("driver should not be called for a locked valve")
	}

	code, res = post(t, env, "/api/relay/1/lock", "")
	if code != 200 || res.Locked || res.Message != "GV Downstream Unlocked" {
		t.Errorf("unlock: got %d %+v", code, res)
	}
}

func TestLockExplicitBody(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 2; i++ {
		code, res := post(t, env, "/api/relay/0/lock", `{"locked": true}`)
		if code != 200 || !res.Locked {
			t.Errorf("set lock #%d: got %d %+v", i, code, res)
		}
	}

	code, res := post(t, env, "/api/relay/0/lock", `{"locked": false}`)
	if code != 200 || res.Locked {
		t.Errorf("clear lock: got %d %+v", code, res)
	}

	code, _ = post(t, env, "/api/relay/0/lock", `{"locked":`)
	if code != 400 {
		t.Errorf("malformed body: got %d, want 400", code)
	}
}

func TestAllOnOff(t *testing.T) {
	env := newTestEnv(t)

	code, res := post(t, env, "/api/relay/all/on", "")
	if code != 200 || !res.Success || res.Message != "All gate valves are Open." {
		t.Fatalf("all on: got %d %+v", code, res)
	}
	for _, v := range env.registry.StatusAll(context.Background()) {
		if !v.Open {
			t.Errorf("%s should be open", v.Name)
		}
	}

	code, res = get(t, env, "/api/relay/all/off")
	if code != 200 || res.Message != "All gate valves are Close." {
		t.Fatalf("all off: got %d %+v", code, res)
	}
}

func TestAllSkipsLockedValves(t *testing.T) {
	env := newTestEnv(t, "A", "B", "C")
	env.registry.SetLock(context.Background(), 0, true)
	env.registry.SetLock(context.Background(), 2, true)

	code, res := post(t, env, "/api/relay/all/on", "")
	if code != 200 || res.Message != "All gate valves are Open. (Locked gate valves: A, C)" {
		t.Fatalf("got %d %+v", code, res)
	}

	valves := env.registry.StatusAll(context.Background())
	if valves[0].Open || !valves[1].Open || valves[2].Open {
		t.Errorf("states: got %+v", valves)
	}
}

func TestDriverFailure(t *testing.T) {
	env := newTestEnv(t)
	env.driver.ApplyError = errors.New("line busy")

	code, res := post(t, env, "/api/relay/0/toggle", "")
	if code != 500 || res.Success || res.Message != "GV Upstream could not be driven." {
		t.Errorf("toggle: got %d %+v", code, res)
	}

	code, res = post(t, env, "/api/relay/all/on", "")
	if code != 500 || res.Message != "GV Upstream, GV Downstream could not be driven." {
		t.Errorf("all on: got %d %+v", code, res)
	}

	for _, v := range env.registry.StatusAll(context.Background()) {
		if v.Open {
			t.Errorf("%s should still be closed after a failed drive", v.Name)
		}
	}
}

// Two valves A and B: toggle A open, lock it, try to toggle again, then
// switch everything off.
func TestLockScenario(t *testing.T) {
	env := newTestEnv(t, "A", "B")

	code, res := post(t, env, "/api/relay/0/toggle", "")
	if code != 200 || !res.Success || res.RelayNum != 0 || !res.State {
		t.Fatalf("toggle: got %d %+v", code, res)
	}

	_, res = post(t, env, "/api/relay/0/lock", "")
	if !res.Locked {
		t.Fatalf("lock: got %+v", res)
	}

	code, _ = post(t, env, "/api/relay/0/toggle", "")
	if code != 403 {
		t.Errorf("locked toggle: got %d, want 403", code)
	}
	if v, _ := env.registry.Get(context.Background(), 0); !v.Open {
		t.Error("A should remain open")
	}

	_, res = post(t, env, "/api/relay/all/off", "")
	if !strings.Contains(res.Message, "(Locked gate valves: A)") {
		t.Errorf("message: got %q", res.Message)
	}

	valves := env.registry.StatusAll(context.Background())
	if !valves[0].Open {
		t.Error("A should stay open")
	}
	if valves[1].Open {
		t.Error("B should be closed")
	}
}
