// fake_backend.go - In-process stand-in for the remote intake service
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/client-intake/frontend/internal/models"
	"github.com/labstack/echo/v4"
)

// RecordedFile is one multipart file part received by the fake.
type RecordedFile struct {
	Name    string
	Content []byte
}

// Call is one request received by the fake backend.
type Call struct {
	Method string
	Path   string
	// JSON holds decoded JSON bodies.
	JSON map[string]string
	// Form holds multipart text fields.
	Form  map[string][]string
	Files []RecordedFile
}

// Reply is a canned response.
type Reply struct {
	Status int
	Body   any
}

// FakeBackend records calls and answers with programmable replies.
// Endpoints without a reply answer 200 {}.
type FakeBackend struct {
	Server *httptest.Server

	mu      sync.Mutex
	calls   []Call
	replies map[string][]Reply
	clients []models.Client
	block   chan struct{}
}

// NewFakeBackend starts a fake intake service. It is closed when the test ends.
func NewFakeBackend(t interface{ Cleanup(func()) }) *FakeBackend {
	f := &FakeBackend{replies: make(map[string][]Reply)}

	e := echo.New()
	e.HideBanner = true
	e.POST("/send-otp", f.handleJSON)
	e.POST("/validation", f.handleJSON)
	e.POST("/links", f.handleJSON)
	e.POST("/clients", f.handleMultipart)
	e.GET("/clients", f.handleList)

	f.Server = httptest.NewServer(e)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the base URL of the fake service.
func (f *FakeBackend) URL() string {
	return f.Server.URL
}

// Reply queues a response for method+path, e.g. "POST /send-otp".
func (f *FakeBackend) Reply(route string, status int, body any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[route] = append(f.replies[route], Reply{Status: status, Body: body})
}

// SetClients sets the collection returned by GET /clients.
func (f *FakeBackend) SetClients(clients []models.Client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients = clients
}

// Block makes every request wait until the returned function is called.
func (f *FakeBackend) Block() (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.block = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Calls returns the requests received so far.
func (f *FakeBackend) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsTo returns the requests received for one path.
func (f *FakeBackend) CallsTo(method, path string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Method == method && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func (f *FakeBackend) wait() {
	f.mu.Lock()
	ch := f.block
	f.mu.Unlock()
	if ch != nil {
		<-ch
	}
}

func (f *FakeBackend) record(c Call) Reply {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)

	route := c.Method + " " + c.Path
	queue := f.replies[route]
	if len(queue) == 0 {
		return Reply{Status: http.StatusOK, Body: map[string]any{}}
	}
	f.replies[route] = queue[1:]
	return queue[0]
}

func (f *FakeBackend) handleJSON(c echo.Context) error {
	f.wait()
	body := map[string]string{}
	_ = json.NewDecoder(c.Request().Body).Decode(&body)

	reply := f.record(Call{Method: http.MethodPost, Path: c.Path(), JSON: body})
	return c.JSON(reply.Status, reply.Body)
}

func (f *FakeBackend) handleMultipart(c echo.Context) error {
	f.wait()
	call := Call{Method: http.MethodPost, Path: c.Path()}

	form, err := c.MultipartForm()
	if err == nil {
		call.Form = form.Value
		for _, fh := range form.File["files"] {
			src, err := fh.Open()
			if err != nil {
				continue
			}
			data, _ := io.ReadAll(src)
			src.Close()
			call.Files = append(call.Files, RecordedFile{Name: fh.Filename, Content: data})
		}
	}

	reply := f.record(call)
	return c.JSON(reply.Status, reply.Body)
}

func (f *FakeBackend) handleList(c echo.Context) error {
	f.wait()
	reply := f.record(Call{Method: http.MethodGet, Path: c.Path()})
	if reply.Status != http.StatusOK {
		return c.JSON(reply.Status, reply.Body)
	}

	f.mu.Lock()
	clients := f.clients
	f.mu.Unlock()
	if clients == nil {
		clients = []models.Client{}
	}
	return c.JSON(http.StatusOK, clients)
}
