package splunk

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"
)

// HEC posts events to the Splunk HTTP Event Collector.
type HEC struct {
	url   string
	token string
	http  *http.Client
}

// NewHEC creates an HEC client. url is the full collector endpoint,
// e.g. https://splunk:8088/services/collector/event.
func NewHEC(url, token string, insecureTLS bool) (*HEC, error) {
	if url == "" {
		return nil, errors.New("SPLUNK_HEC_URL is not set")
	}
	if token == "" {
		return nil, errors.New("SPLUNK_HEC_TOKEN is not set")
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed Splunk certs
	}
	return &HEC{
		url:   url,
		token: token,
		http:  &http.Client{Timeout: 5 * time.Minute, Transport: transport},
	}, nil
}

// NewHECFromEnv reads SPLUNK_HEC_URL, SPLUNK_HEC_TOKEN and SPLUNK_INSECURE_TLS.
func NewHECFromEnv() (*HEC, error) {
	return NewHEC(os.Getenv("SPLUNK_HEC_URL"), os.Getenv("SPLUNK_HEC_TOKEN"), ConfigFromEnv().InsecureTLS)
}

type hecEnvelope struct {
	Index string          `json:"index"`
	Event json.RawMessage `json:"event"`
}

// Ingest sends events to index in one newline-joined batch.
func (h *HEC) Ingest(ctx context.Context, index string, events []json.RawMessage) error {
	if len(events) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for i, ev := range events {
		line, err := json.Marshal(hecEnvelope{Index: index, Event: ev})
		if err != nil {
			return fmt.Errorf("encode event %d: %w", i, err)
		}
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.Write(line)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Splunk "+h.token)
	resp, err := h.http.Do(req)
	if err != nil {
		return fmt.Errorf("hec: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, Body: truncate(strings.TrimSpace(string(body)), 512)}
	}
	return nil
}

// ZipMember holds the events read from one .json file of a dataset archive.
type ZipMember struct {
	Name   string
	Events []json.RawMessage
}

// ExtractZipEvents reads every .json member of a zip archive as
// newline-delimited JSON. Members come back sorted by name.
func ExtractZipEvents(data []byte) ([]ZipMember, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}

	var members []ZipMember
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, ".json") {
			continue
		}
		events, err := readJSONLines(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		members = append(members, ZipMember{Name: f.Name, Events: events})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Name < members[j].Name })
	return members, nil
}

func readJSONLines(f *zip.File) ([]json.RawMessage, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var events []json.RawMessage
	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return nil, fmt.Errorf("line %d: invalid JSON", lineNo)
		}
		events = append(events, json.RawMessage(bytes.Clone(line)))
	}
	return events, sc.Err()
}
