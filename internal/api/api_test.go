package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/healbee/healbee/internal/delivery"
	"github.com/healbee/healbee/internal/flow"
	"github.com/healbee/healbee/internal/models"
	"github.com/healbee/healbee/internal/places"
	"github.com/healbee/healbee/internal/safety"
	"github.com/healbee/healbee/internal/speech"
	"github.com/healbee/healbee/internal/store"
	"github.com/healbee/healbee/internal/testutil"
	"github.com/healbee/healbee/internal/triage"
)

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type fakeRecognizer struct {
	text string
	err  error
	lang string
}

func (f *fakeRecognizer) Transcribe(ctx context.Context, audio []byte, lang string) (speech.Transcript, error) {
	f.lang = lang
	if f.err != nil {
		return speech.Transcript{}, f.err
	}
	return speech.Transcript{Text: f.text}, nil
}

type fakeSynthesizer struct {
	err  error
	text string
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	f.text = text
	if f.err != nil {
		return nil, f.err
	}
	return []byte("audio:" + lang), nil
}

type fakeFinder struct {
	calls    int
	location string
	limit    int
}

func (f *fakeFinder) Search(ctx context.Context, location string, limitPerType int) []places.Place {
	f.calls++
	f.location = location
	f.limit = limitPerType
	return []places.Place{{Name: "District Hospital", Type: "hospital", Lat: "26.85", Lon: "80.95", MapURL: places.OSMLink("26.85", "80.95")}}
}

type testServer struct {
	*httptest.Server
	store *store.InMemoryStore
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	m, st := testutil.NewManager(t)
	s := NewServer(m, append([]Option{WithStore(st)}, opts...)...)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, store: st}
}

func (ts *testServer) do(t *testing.T, method, path string, body io.Reader) (int, envelope) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, ts.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("%s %s: content type %q", method, path, ct)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("%s %s: decode envelope: %v", method, path, err)
	}
	return resp.StatusCode, env
}

func (ts *testServer) start(t *testing.T, body string) string {
	t.Helper()
	code, env := ts.do(t, http.MethodPost, "/conversations", strings.NewReader(body))
	if code != http.StatusCreated || env.Status != "ok" {
		t.Fatalf("start conversation: %d %+v", code, env)
	}
	var res models.StartConversationResponse
	if err := json.Unmarshal(env.Result, &res); err != nil || res.ConversationID == "" {
		t.Fatalf("start result %s: %v", env.Result, err)
	}
	return res.ConversationID
}

func (ts *testServer) send(t *testing.T, id, text string) (int, messageResponse) {
	t.Helper()
	payload, _ := json.Marshal(models.MessageRequest{Text: text})
	code, env := ts.do(t, http.MethodPost, "/conversations/"+id+"/messages", bytes.NewReader(payload))
	var resp messageResponse
	if code == http.StatusOK {
		if err := json.Unmarshal(env.Result, &resp); err != nil {
			t.Fatalf("decode reply: %v", err)
		}
	}
	return code, resp
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	code, env := ts.do(t, http.MethodGet, "/healthz", nil)
	if code != http.StatusOK || env.Status != "ok" {
		t.Errorf("healthz = %d %+v", code, env)
	}
}

func TestStartConversation(t *testing.T) {
	ts := newTestServer(t)
	ts.start(t, "")
	ts.start(t, `{"user_id":"u1","language":"hi","profile":{"name":"Asha","age":30}}`)

	tests := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"unknown field", `{"colour":"blue"}`},
		{"bad language", `{"language":"fr"}`},
		{"bad profile", `{"profile":{"age":200}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := ts.do(t, http.MethodPost, "/conversations", strings.NewReader(tt.body))
			if code != http.StatusBadRequest || env.Status != "error" || env.Message == "" {
				t.Errorf("got %d %+v", code, env)
			}
		})
	}
}

func TestSymptomDialogueOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	id := ts.start(t, `{"user_id":"u1"}`)

	code, r := ts.send(t, id, "I have a cold")
	if code != http.StatusOK || r.Kind != flow.ReplyQuestion || r.Question == nil {
		t.Fatalf("first turn = %d %+v", code, r)
	}
	code, r = ts.send(t, id, "2 days")
	if code != http.StatusOK || r.Kind != flow.ReplyAssessment || r.Assessment == nil {
		t.Fatalf("second turn = %d %+v", code, r)
	}
	if !strings.Contains(r.Text, safety.Disclaimer("en")) {
		t.Errorf("assessment without disclaimer: %q", r.Text)
	}

	code, env := ts.do(t, http.MethodGet, "/users/u1/assessments?limit=5", nil)
	if code != http.StatusOK {
		t.Fatalf("list = %d %+v", code, env)
	}
	var recs []store.AssessmentRecord
	if err := json.Unmarshal(env.Result, &recs); err != nil || len(recs) != 1 {
		t.Fatalf("list result %s: %v", env.Result, err)
	}
	if recs[0].ConversationID != id {
		t.Errorf("record conversation = %q", recs[0].ConversationID)
	}

	code, env = ts.do(t, http.MethodGet, "/assessments/"+recs[0].ID, nil)
	if code != http.StatusOK {
		t.Errorf("get assessment = %d %+v", code, env)
	}
	if code, _ := ts.do(t, http.MethodGet, "/assessments/missing", nil); code != http.StatusNotFound {
		t.Errorf("missing assessment = %d", code)
	}
	if code, _ := ts.do(t, http.MethodGet, "/users/u1/assessments?limit=zero", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", code)
	}
	code, env = ts.do(t, http.MethodGet, "/users/nobody/assessments", nil)
	if code != http.StatusOK || string(env.Result) != "[]" {
		t.Errorf("empty list = %d %s", code, env.Result)
	}
}

func TestListAssessmentsLimit(t *testing.T) {
	ts := newTestServer(t)
	ids := testutil.SeedAssessments(t, ts.store, "u2", 4)

	code, env := ts.do(t, http.MethodGet, "/users/u2/assessments?limit=2", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, code, "list with limit")
	var recs []store.AssessmentRecord
	testutil.MustUnmarshalJSON(t, env.Result, &recs)
	if len(recs) != 2 || recs[0].ID != ids[3] || recs[1].ID != ids[2] {
		t.Errorf("expected the two newest records, got %+v", recs)
	}

	code, env = ts.do(t, http.MethodGet, "/users/u2/assessments", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, code, "list without limit")
	testutil.MustUnmarshalJSON(t, env.Result, &recs)
	if len(recs) != 4 {
		t.Errorf("got %d records, want 4", len(recs))
	}
}

func TestChatLogOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	id := ts.start(t, `{"user_id":"u5"}`)
	_, reply := ts.send(t, id, "I have a cold")

	code, env := ts.do(t, http.MethodGet, "/users/u5/conversations", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, code, "list conversations")
	var convs []store.ConversationRecord
	testutil.MustUnmarshalJSON(t, env.Result, &convs)
	if len(convs) != 1 || convs[0].ID != id || convs[0].Title != "I have a cold" {
		t.Errorf("unexpected conversations %+v", convs)
	}

	code, env = ts.do(t, http.MethodGet, "/conversations/"+id+"/messages", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, code, "list messages")
	var msgs []store.MessageRecord
	testutil.MustUnmarshalJSON(t, env.Result, &msgs)
	if len(msgs) != 2 || msgs[0].Role != store.RoleUser || msgs[1].Content != reply.Text {
		t.Errorf("unexpected messages %+v", msgs)
	}

	code, env = ts.do(t, http.MethodGet, "/conversations/"+id+"/messages?limit=1", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, code, "list messages with limit")
	testutil.MustUnmarshalJSON(t, env.Result, &msgs)
	if len(msgs) != 1 || msgs[0].Role != store.RoleAssistant {
		t.Errorf("expected only the newest message, got %+v", msgs)
	}

	code, _ = ts.do(t, http.MethodGet, "/conversations/unknown/messages", nil)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, code, "unknown conversation")
	code, _ = ts.do(t, http.MethodGet, "/users/u5/conversations?limit=0", nil)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, code, "invalid limit")

	code, env = ts.do(t, http.MethodGet, "/users/nobody/conversations", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, code, "empty list")
	if string(env.Result) != "[]" {
		t.Errorf("expected an empty list, got %s", env.Result)
	}
}

func TestEmergencyOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	id := ts.start(t, "")
	_, r := ts.send(t, id, "my father is unconscious")
	if r.Text != safety.EmergencyMessage("en") || r.Outcome != safety.OutcomeOverride {
		t.Errorf("emergency reply = %+v", r)
	}
}

func TestNearbyPlacesOnUrgentReply(t *testing.T) {
	finder := &fakeFinder{}
	ts := newTestServer(t, WithPlaces(finder))
	id := ts.start(t, "")

	body := strings.NewReader(`{"text":"I have a mild fever","location":"Lucknow"}`)
	code, env := ts.do(t, http.MethodPost, "/conversations/"+id+"/messages", body)
	if code != http.StatusOK {
		t.Fatalf("routine turn = %d %+v", code, env)
	}
	var routine messageResponse
	if err := json.Unmarshal(env.Result, &routine); err != nil {
		t.Fatal(err)
	}
	if len(routine.Nearby) != 0 || finder.calls != 0 {
		t.Errorf("routine reply searched facilities: %+v, calls = %d", routine.Nearby, finder.calls)
	}

	body = strings.NewReader(`{"text":"my father is unconscious","location":"Lucknow"}`)
	code, env = ts.do(t, http.MethodPost, "/conversations/"+id+"/messages", body)
	if code != http.StatusOK {
		t.Fatalf("emergency turn = %d %+v", code, env)
	}
	var urgent messageResponse
	if err := json.Unmarshal(env.Result, &urgent); err != nil {
		t.Fatal(err)
	}
	if urgent.Text != safety.EmergencyMessage("en") {
		t.Errorf("emergency text = %q", urgent.Text)
	}
	if len(urgent.Nearby) != 1 || urgent.Nearby[0].Name != "District Hospital" {
		t.Errorf("nearby = %+v", urgent.Nearby)
	}
	if finder.location != "Lucknow" || finder.limit != maxNearbyPerType {
		t.Errorf("search called with %q, %d", finder.location, finder.limit)
	}
}

func TestNeedsCare(t *testing.T) {
	tests := []struct {
		name  string
		reply flow.Reply
		want  bool
	}{
		{name: "emergency redirect", reply: flow.Reply{Rules: []string{safety.RuleEmergencyRedirect}}, want: true},
		{name: "high band", reply: flow.Reply{Assessment: &triage.Assessment{Severity: triage.SeverityHigh}}, want: true},
		{name: "emergency band", reply: flow.Reply{Assessment: &triage.Assessment{Severity: triage.SeverityEmergency}}, want: true},
		{name: "moderate band", reply: flow.Reply{Assessment: &triage.Assessment{Severity: triage.SeverityModerate}}, want: false},
		{name: "question", reply: flow.Reply{Kind: flow.ReplyQuestion}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := needsCare(tt.reply); got != tt.want {
				t.Errorf("needsCare() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlacesEndpoint(t *testing.T) {
	if code, _ := newTestServer(t).do(t, http.MethodGet, "/places?near=Patna", nil); code != http.StatusServiceUnavailable {
		t.Errorf("places without finder = %d", code)
	}

	finder := &fakeFinder{}
	ts := newTestServer(t, WithPlaces(finder))
	if code, _ := ts.do(t, http.MethodGet, "/places", nil); code != http.StatusBadRequest {
		t.Errorf("missing near = %d", code)
	}
	if code, _ := ts.do(t, http.MethodGet, "/places?near=Patna&limit=zero", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", code)
	}
	if code, _ := ts.do(t, http.MethodGet, "/places?near="+strings.Repeat("x", models.MaxLocationLength+1), nil); code != http.StatusBadRequest {
		t.Errorf("long near = %d", code)
	}

	code, env := ts.do(t, http.MethodGet, "/places?near=Patna&limit=4", nil)
	if code != http.StatusOK {
		t.Fatalf("places = %d %+v", code, env)
	}
	var got []places.Place
	if err := json.Unmarshal(env.Result, &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].MapURL != "https://www.openstreetmap.org/directions?from=&to=26.85%2C80.95" {
		t.Errorf("places = %+v", got)
	}
	if finder.location != "Patna" || finder.limit != 4 {
		t.Errorf("search called with %q, %d", finder.location, finder.limit)
	}
}

func TestMessageErrors(t *testing.T) {
	ts := newTestServer(t)
	id := ts.start(t, "")

	if code, _ := ts.send(t, "missing", "hello"); code != http.StatusNotFound {
		t.Errorf("unknown conversation = %d", code)
	}
	if code, _ := ts.send(t, id, "   "); code != http.StatusBadRequest {
		t.Errorf("blank text = %d", code)
	}
	body := strings.NewReader(`{"text":"hi","deliver_to":"+919876543210"}`)
	if code, env := ts.do(t, http.MethodPost, "/conversations/"+id+"/messages", body); code != http.StatusBadRequest {
		t.Errorf("delivery without sender = %d %+v", code, env)
	}
}

func TestMessageDelivery(t *testing.T) {
	sender := delivery.NewMockSender()
	ts := newTestServer(t, WithSender(sender))
	id := ts.start(t, "")

	body := strings.NewReader(`{"text":"I have fever","deliver_to":"+919876543210"}`)
	code, env := ts.do(t, http.MethodPost, "/conversations/"+id+"/messages", body)
	if code != http.StatusOK {
		t.Fatalf("deliver = %d %+v", code, env)
	}
	var r messageResponse
	if err := json.Unmarshal(env.Result, &r); err != nil {
		t.Fatal(err)
	}
	if r.Delivery == nil || r.Delivery.Status != models.MessageStatusSent {
		t.Errorf("delivery receipt = %+v", r.Delivery)
	}
	sent := sender.Sent()
	if len(sent) != 1 || sent[0].Body != r.Text {
		t.Errorf("sent = %+v", sent)
	}

	sender.Err = errors.New("twilio down")
	body = strings.NewReader(`{"text":"3 days","deliver_to":"+919876543210"}`)
	code, env = ts.do(t, http.MethodPost, "/conversations/"+id+"/messages", body)
	if code != http.StatusOK {
		t.Fatalf("failed delivery must not fail the turn: %d %+v", code, env)
	}
	if err := json.Unmarshal(env.Result, &r); err != nil {
		t.Fatal(err)
	}
	if r.Delivery == nil || r.Delivery.Status != models.MessageStatusFailed {
		t.Errorf("failed receipt = %+v", r.Delivery)
	}
}

func TestEndConversation(t *testing.T) {
	ts := newTestServer(t)
	id := ts.start(t, "")
	ts.send(t, id, "I have fever")

	if code, env := ts.do(t, http.MethodDelete, "/conversations/"+id, nil); code != http.StatusOK {
		t.Errorf("end = %d %+v", code, env)
	}
	if code, _ := ts.do(t, http.MethodDelete, "/conversations/"+id, nil); code != http.StatusNotFound {
		t.Errorf("second end = %d", code)
	}
	if code, _ := ts.send(t, id, "3 days"); code != http.StatusNotFound {
		t.Errorf("message after end = %d", code)
	}
}

func TestVoice(t *testing.T) {
	stt := &fakeRecognizer{text: "I have fever"}
	tts := &fakeSynthesizer{}
	ts := newTestServer(t, WithSpeech(stt, tts))
	id := ts.start(t, "")

	code, env := ts.do(t, http.MethodPost, "/conversations/"+id+"/voice?lang=en", strings.NewReader("RIFF"))
	if code != http.StatusOK {
		t.Fatalf("voice = %d %+v", code, env)
	}
	var vr voiceResponse
	if err := json.Unmarshal(env.Result, &vr); err != nil {
		t.Fatal(err)
	}
	if vr.Transcript != "I have fever" || vr.Reply.Kind != flow.ReplyQuestion {
		t.Errorf("voice reply = %+v", vr)
	}
	if stt.lang != "en" || tts.text != vr.Reply.Text {
		t.Errorf("speech collaborators got lang=%q text=%q", stt.lang, tts.text)
	}
	audio, _ := base64.StdEncoding.DecodeString(vr.AudioBase64)
	if string(audio) != "audio:en" {
		t.Errorf("audio = %q", audio)
	}
}

func TestVoice_Degradation(t *testing.T) {
	stt := &fakeRecognizer{err: errors.New("stt timeout")}
	tts := &fakeSynthesizer{err: errors.New("tts down")}
	ts := newTestServer(t, WithSpeech(stt, tts))
	id := ts.start(t, "")

	code, env := ts.do(t, http.MethodPost, "/conversations/"+id+"/voice", strings.NewReader("RIFF"))
	if code != http.StatusOK {
		t.Fatalf("voice = %d %+v", code, env)
	}
	var vr voiceResponse
	if err := json.Unmarshal(env.Result, &vr); err != nil {
		t.Fatal(err)
	}
	if vr.Transcript != "" || vr.AudioBase64 != "" {
		t.Errorf("unexpected transcript or audio: %+v", vr)
	}
	if !strings.HasPrefix(vr.Reply.Text, "Sorry, I could not hear you") || !strings.HasSuffix(vr.Reply.Text, safety.Disclaimer("en")) {
		t.Errorf("reply = %q", vr.Reply.Text)
	}
}

func TestVoice_Errors(t *testing.T) {
	ts := newTestServer(t)
	id := ts.start(t, "")
	if code, _ := ts.do(t, http.MethodPost, "/conversations/"+id+"/voice", strings.NewReader("x")); code != http.StatusServiceUnavailable {
		t.Errorf("voice without speech = %d", code)
	}

	ts = newTestServer(t, WithSpeech(&fakeRecognizer{text: "hi"}, nil), WithMaxAudioBytes(4))
	id = ts.start(t, "")
	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"empty", "/conversations/" + id + "/voice", "", http.StatusBadRequest},
		{"too large", "/conversations/" + id + "/voice", "0123456789", http.StatusRequestEntityTooLarge},
		{"bad lang", "/conversations/" + id + "/voice?lang=fr", "x", http.StatusBadRequest},
		{"unknown conversation", "/conversations/missing/voice", "x", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, env := ts.do(t, http.MethodPost, tt.path, strings.NewReader(tt.body)); code != tt.want {
				t.Errorf("got %d %+v, want %d", code, env, tt.want)
			}
		})
	}
}

func TestWriteJSONResponse_MarshalFailure(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSONResponse(rr, http.StatusOK, models.Success(make(chan int)))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", rr.Code)
	}
	if !bytes.Equal(rr.Body.Bytes(), fallbackErrorResponse) {
		t.Errorf("body = %s", rr.Body.String())
	}
}
