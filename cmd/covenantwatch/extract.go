package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/covenantwatch/covenantwatch/api"
	"github.com/covenantwatch/covenantwatch/internal/backend"
	"github.com/covenantwatch/covenantwatch/internal/document"
	"github.com/covenantwatch/covenantwatch/internal/extraction"
)

func init() {
	rootCmd.AddCommand(extractCmd)
	extractCmd.Flags().String("contract", "", "contract id the covenants belong to (required unless --server creates one)")
	extractCmd.Flags().String("server", "", "submit to a running API server instead of extracting locally")
	extractCmd.Flags().String("name", "", "contract name, when the server creates the contract")
	extractCmd.Flags().String("borrower", "", "borrower name, when the server creates the contract")
	extractCmd.Flags().Duration("poll", extraction.DefaultPollInterval, "job poll interval")
	extractCmd.Flags().Duration("timeout", 5*time.Minute, "give up waiting after this long")
}

var extractCmd = &cobra.Command{
	Use:   "extract <document>",
	Short: "Extract covenants from a contract document",
	Long: `Extracts covenants from a .txt, .md or .html contract. Locally the
covenants are stored in the local store (and the backend when configured);
with --server the document is uploaded and the job polled until done.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		contractID, _ := cmd.Flags().GetString("contract")
		server, _ := cmd.Flags().GetString("server")
		poll, _ := cmd.Flags().GetDuration("poll")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		var job extraction.Job
		var err error
		if server != "" {
			name, _ := cmd.Flags().GetString("name")
			borrower, _ := cmd.Flags().GetString("borrower")
			job, err = extractRemote(ctx, server, args[0], map[string]string{
				"contract_id":   contractID,
				"name":          name,
				"borrower_name": borrower,
			}, poll)
		} else {
			if contractID == "" {
				return fmt.Errorf("--contract is required")
			}
			job, err = extractLocal(ctx, args[0], contractID, poll)
		}
		if err != nil {
			return err
		}
		if job.Status == extraction.StatusFailed {
			return fmt.Errorf("extraction failed: %s", job.Error)
		}

		res := job.Result
		if res == nil {
			return fmt.Errorf("job %s finished without a result", job.ID)
		}
		fmt.Printf("Contract %s: %d covenants (%s, confidence %.2f)\n", job.ContractID, len(res.Covenants), res.Source, res.Confidence)
		if job.Dropped > 0 {
			fmt.Printf("  %d invalid entries dropped\n", job.Dropped)
		}
		for _, c := range res.Covenants {
			flag := ""
			if c.NeedsReview {
				flag = "  [review]"
			}
			fmt.Printf("  %-36s %s %g%s  %s%s\n", c.CovenantName, c.Operator, c.ThresholdValue, c.ThresholdUnit, c.CheckFrequency, flag)
		}
		return nil
	},
}

func extractLocal(ctx context.Context, path, contractID string, poll time.Duration) (extraction.Job, error) {
	text, err := document.ReadFile(path)
	if err != nil {
		return extraction.Job{}, err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return extraction.Job{}, err
	}
	defer a.Close()

	tr := extraction.NewTracker(a.assessor,
		extraction.WithSink(api.CovenantSink(a.store, a.backend, a.log)),
		extraction.WithLogger(a.log),
	)
	defer tr.Close()

	job, err := tr.Submit(contractID, text)
	if err != nil {
		return job, err
	}
	return extraction.Poll(ctx, poll, func(context.Context) (extraction.Job, error) {
		return tr.Get(job.ID)
	})
}

// extractRemote uploads the document to an API server and polls the job.
func extractRemote(ctx context.Context, server, path string, fields map[string]string, poll time.Duration) (extraction.Job, error) {
	server = strings.TrimRight(server, "/")
	client := httpClient(60)

	body, contentType, err := uploadBody(path, fields)
	if err != nil {
		return extraction.Job{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server+"/api/v1/extractions", body)
	if err != nil {
		return extraction.Job{}, err
	}
	req.Header.Set("Content-Type", contentType)

	var job extraction.Job
	if err := callAPI(client, req, &job); err != nil {
		return job, err
	}
	fmt.Printf("Submitted job %s, polling every %s\n", job.ID, poll)

	return extraction.Poll(ctx, poll, func(ctx context.Context) (extraction.Job, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/api/v1/extractions/"+job.ID, nil)
		if err != nil {
			return job, err
		}
		var got extraction.Job
		err = callAPI(client, req, &got)
		switch {
		case errors.Is(err, backend.ErrNotFound):
			return got, fmt.Errorf("%w: %v", extraction.ErrNotFound, err)
		case err != nil:
			fmt.Fprintf(os.Stderr, "poll failed, retrying: %s\n", backend.Message(err))
		}
		return got, err
	})
}

func uploadBody(path string, fields map[string]string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	fw, err := mw.CreateFormFile("document", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(fw, io.LimitReader(f, document.MaxSize+1)); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// callAPI sends req and decodes the envelope's data into out.
func callAPI(client *http.Client, req *http.Request, out interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("server returned HTTP %d: %w", resp.StatusCode, err)
	}
	if !env.Success {
		return &backend.APIError{Status: resp.StatusCode, Message: env.Error, Method: req.Method, Path: req.URL.Path}
	}
	return json.Unmarshal(env.Data, out)
}
