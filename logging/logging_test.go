package logging

import (
	"bytes"
	"log"
	"net/http"
	"strings"
	"testing"

	"github.com/m-lab/go/httpx"
	"github.com/m-lab/go/rtx"
)

type okHandler struct{}

func (okHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(200)
}

func TestMakeAccessLogHandler(t *testing.T) {
	buff := &bytes.Buffer{}
	old := log.Writer()
	defer log.SetOutput(old)
	// The handler binds the access log writer at construction time.
	log.SetOutput(buff)
	wrapped := MakeAccessLogHandler(okHandler{})
	log.SetOutput(old)

	srv := http.Server{
		Addr:    ":0",
		Handler: wrapped,
	}
	rtx.Must(httpx.ListenAndServeAsync(&srv), "Could not start server")
	defer srv.Close()
	resp, err := http.Get("http://" + srv.Addr + "/echoed/path")
	rtx.Must(err, "Could not get")
	resp.Body.Close()

	line, _ := buff.ReadString('\n')
	if line == "" {
		t.Error("the access log should have one line for the request")
	}
	if !strings.Contains(line, "/echoed/path") {
		t.Errorf("the access log line should name the resource, got %q", line)
	}
}
