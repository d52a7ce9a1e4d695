package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"

	"github.com/ehr/tpn/internal/domain/ranges"
	"github.com/ehr/tpn/internal/platform/websocket"
)

func dialWS(t *testing.T, srv *httptest.Server) *gorillawebsocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitTopicCount polls the hub until the topic has the wanted number of
// subscribers. Subscribe messages are handled asynchronously by the
// read pump, so tests must not publish before the subscription landed.
func waitTopicCount(t *testing.T, app *testApp, topic string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if app.hub.TopicCount(topic) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("topic %s never reached %d subscribers", topic, want)
}

func readEvent(t *testing.T, conn *gorillawebsocket.Conn) websocket.Event {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(3 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	var ev websocket.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	return ev
}

func TestWebSocketWorksheetTopic(t *testing.T) {
	app := newTestApp(t)
	putVolumeRange(t, app)
	st := openWorksheet(t, app, map[string]interface{}{
		"title": "Live session",
		"lines": []string{"<%", "return 1;", "%>"},
	})
	id := st.ID.String()
	topic := websocket.WorksheetTopic(id)
	wsPath := "/api/v1/worksheets/" + id

	srv := httptest.NewServer(app.e)
	defer srv.Close()
	conn := dialWS(t, srv)

	if err := conn.WriteJSON(websocket.ClientMessage{Action: "subscribe", Topics: []string{topic}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitTopicCount(t, app, topic, 1)

	if rec := app.request(t, http.MethodPost, wsPath+"/render", nil); rec.Code != http.StatusOK {
		t.Fatalf("render: expected 200, got %d", rec.Code)
	}
	ev := readEvent(t, conn)
	if ev.Type != websocket.EventRenderComplete || ev.WorksheetID != id || ev.Topic != topic {
		t.Fatalf("unexpected event: %+v", ev)
	}
	var payload struct {
		Segments int `json:"segments"`
		Errors   int `json:"errors"`
	}
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		t.Fatalf("decode render payload: %v", err)
	}
	if payload.Segments != 1 || payload.Errors != 0 {
		t.Errorf("unexpected render payload: %+v", payload)
	}

	// A firm violation entered through the batch path is accepted
	// unattended and must alert subscribers.
	rec := app.request(t, http.MethodPost, wsPath+"/values", map[string]interface{}{
		"values": map[string]interface{}{"VolumePerKG": 185},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("set values: expected 200, got %d", rec.Code)
	}
	ev = readEvent(t, conn)
	if ev.Type != websocket.EventValidationAlert || ev.WorksheetID != id {
		t.Fatalf("expected validation alert, got %+v", ev)
	}
	var alert ranges.ValidationEvent
	if err := json.Unmarshal(ev.Data, &alert); err != nil {
		t.Fatalf("decode alert payload: %v", err)
	}
	if alert.Key != "VolumePerKG" || alert.Severity != ranges.SeverityFirm || alert.UserAction != ranges.ActionContinued {
		t.Errorf("unexpected alert: %+v", alert)
	}

	if rec := app.request(t, http.MethodDelete, wsPath, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("close: expected 204, got %d", rec.Code)
	}
	ev = readEvent(t, conn)
	if ev.Type != websocket.EventWorksheetClosed || ev.WorksheetID != id {
		t.Errorf("expected close event, got %+v", ev)
	}

	if err := conn.WriteJSON(websocket.ClientMessage{Action: "unsubscribe", Topics: []string{topic}}); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	waitTopicCount(t, app, topic, 0)
}

// TestWebSocketAlertsTopic checks the cross-worksheet alert feed: firm
// violations reach it, soft ones do not.
func TestWebSocketAlertsTopic(t *testing.T) {
	app := newTestApp(t)
	putVolumeRange(t, app)
	st := openWorksheet(t, app, map[string]interface{}{"title": "Alert source"})
	wsPath := "/api/v1/worksheets/" + st.ID.String()

	srv := httptest.NewServer(app.e)
	defer srv.Close()
	conn := dialWS(t, srv)

	if err := conn.WriteJSON(websocket.ClientMessage{Action: "subscribe", Topics: []string{websocket.TopicAlerts}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitTopicCount(t, app, websocket.TopicAlerts, 1)

	for _, v := range []float64{160, 185} { // soft, then firm
		rec := app.request(t, http.MethodPost, wsPath+"/values", map[string]interface{}{
			"values": map[string]interface{}{"VolumePerKG": v},
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("set %v: expected 200, got %d", v, rec.Code)
		}
	}

	ev := readEvent(t, conn)
	if ev.Type != websocket.EventValidationAlert || ev.Topic != websocket.TopicAlerts {
		t.Fatalf("unexpected event: %+v", ev)
	}
	var alert ranges.ValidationEvent
	if err := json.Unmarshal(ev.Data, &alert); err != nil {
		t.Fatalf("decode alert payload: %v", err)
	}
	if alert.Severity != ranges.SeverityFirm || alert.EnteredValue != 185 {
		t.Errorf("soft violations must not alert; first event was %+v", alert)
	}
	if alert.SessionID != st.ID.String() {
		t.Errorf("alert must carry the session id, got %q", alert.SessionID)
	}
}
