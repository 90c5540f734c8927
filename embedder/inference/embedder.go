package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/w-h-a/cradle/embedder"
	"github.com/w-h-a/cradle/fault"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// inferenceEmbedder talks to the embedding inference service over HTTP. The
// service runs the acoustic models; this client only uploads audio and reads
// back the vector.
type inferenceEmbedder struct {
	options embedder.Options
	client  *http.Client
}

func (e *inferenceEmbedder) Embed(ctx context.Context, audio []byte) ([]float32, error) {
	if len(audio) == 0 {
		return nil, errors.New("audio is required")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if len(e.options.Model) > 0 {
		if err := writer.WriteField("model", e.options.Model); err != nil {
			return nil, err
		}
	}

	part, err := writer.CreateFormFile("audio", "clip.wav")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}

	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		fmt.Sprintf("%s/v1/embeddings", e.options.Location),
		body,
	)
	if err != nil {
		return nil, err
	}

	req.Header.Add("Content-Type", writer.FormDataContentType())
	if len(e.options.ApiKey) > 0 {
		req.Header.Add("Authorization", "Bearer "+e.options.ApiKey)
	}

	rsp, err := e.client.Do(req)
	if err != nil {
		// timeouts and unreachable hosts are retryable
		return nil, fault.Transient(err)
	}
	defer rsp.Body.Close()

	if rsp.StatusCode == http.StatusTooManyRequests || rsp.StatusCode >= 500 {
		return nil, fault.Transient(fmt.Errorf("status: %s", rsp.Status))
	}

	if rsp.StatusCode >= 400 {
		return nil, fmt.Errorf("status: %s", rsp.Status)
	}

	var res struct {
		Embedding []float32 `json:"embedding"`
	}

	if err := json.NewDecoder(rsp.Body).Decode(&res); err != nil {
		return nil, err
	}

	if len(res.Embedding) == 0 {
		return nil, errors.New("no embedding from inference service")
	}

	return res.Embedding, nil
}

func NewEmbedder(opts ...embedder.Option) embedder.Embedder {
	options := embedder.NewOptions(opts...)

	e := &inferenceEmbedder{
		options: options,
	}

	e.client = &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	return e
}
