package scorer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/extractqa/internal/spans"
	"github.com/samcharles93/extractqa/internal/version"
)

// DefaultTimeout bounds one scoring round trip.
const DefaultTimeout = 30 * time.Second

// errorBodyLimit caps how much of a failed response ends up in an error.
const errorBodyLimit = 512

// Remote scores windows by calling a model server that runs the
// question-answering head. The server receives a batch of token ids and
// attention masks and answers with one start and one end logit per position.
type Remote struct {
	URL       string
	Token     string
	UserAgent string
	HTTP      *http.Client
}

func NewRemote(url, token string, timeout time.Duration) *Remote {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Remote{
		URL:       strings.TrimRight(url, "/"),
		Token:     token,
		UserAgent: "extractqa/" + version.String(),
		HTTP:      &http.Client{Timeout: timeout},
	}
}

type scoreRequest struct {
	InputIDs      [][]int      `json:"input_ids"`
	AttentionMask []spans.Mask `json:"attention_mask"`
}

type scoreResponse struct {
	StartLogits [][]float32 `json:"start_logits"`
	EndLogits   [][]float32 `json:"end_logits"`
}

func (r *Remote) Score(ctx context.Context, windows []spans.Window) ([]spans.Logits, error) {
	if len(windows) == 0 {
		return nil, nil
	}
	body := scoreRequest{
		InputIDs:      make([][]int, len(windows)),
		AttentionMask: make([]spans.Mask, len(windows)),
	}
	for i, w := range windows {
		body.InputIDs[i] = w.InputIDs
		body.AttentionMask[i] = w.AttentionMask
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if r.UserAgent != "" {
		req.Header.Set("User-Agent", r.UserAgent)
	}
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}

	client := r.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return nil, fmt.Errorf("model server: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	var sr scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("decode score response: %w", err)
	}
	if len(sr.StartLogits) != len(sr.EndLogits) {
		return nil, fmt.Errorf("%w: %d start rows, %d end rows", ErrShapeMismatch, len(sr.StartLogits), len(sr.EndLogits))
	}
	out := make([]spans.Logits, len(sr.StartLogits))
	for i := range out {
		out[i] = spans.Logits{Start: sr.StartLogits[i], End: sr.EndLogits[i]}
	}
	if err := checkShape(windows, out); err != nil {
		return nil, err
	}
	return out, nil
}
