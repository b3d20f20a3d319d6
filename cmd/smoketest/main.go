// Command smoketest exercises a running worker end to end: it submits an
// image_gen job, optionally a face_swap job, and prints the returned URLs.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

type result struct {
	Status       string   `json:"status"`
	OutputURLs   []string `json:"output_urls"`
	WorkflowType string   `json:"workflow_type"`
	JobID        string   `json:"job_id"`
	Error        string   `json:"error"`
}

func main() {
	var (
		urlFlag    string
		promptFlag string
		sourceFlag string
		targetFlag string
	)

	flag.StringVar(&urlFlag, "url", "http://localhost:8000", "worker base URL")
	flag.StringVar(&promptFlag, "prompt", "Modern luxury kitchen with marble countertops, warm natural lighting, professional real estate photography, 8K, ultra detailed", "prompt for the image_gen test")
	flag.StringVar(&sourceFlag, "source", "", "source image URL for the face_swap test (skipped when empty)")
	flag.StringVar(&targetFlag, "target", "", "target image URL for the face_swap test (skipped when empty)")
	flag.Parse()

	baseURL := strings.TrimRight(strings.TrimSpace(urlFlag), "/")
	if baseURL == "" {
		exitWithError(errors.New("-url is required"))
	}

	client := &http.Client{Timeout: 5 * time.Minute}

	fmt.Println("--- Testing image_gen workflow ---")
	// steps 20 is a deliberate caller override of the parameterizer's
	// default 25, to keep the smoke run quick.
	imageGenInput := map[string]any{
		"workflow_type":   "image_gen",
		"prompt":          promptFlag,
		"negative_prompt": "blurry, low quality, watermark, text, cartoon",
		"width":           1280,
		"height":          720,
		"steps":           20,
		"seed":            12345,
	}
	if err := runJob(client, baseURL, imageGenInput); err != nil {
		exitWithError(err)
	}

	if sourceFlag != "" && targetFlag != "" {
		fmt.Println("--- Testing face_swap workflow ---")
		faceSwapInput := map[string]any{
			"workflow_type": "face_swap",
			"source_image":  sourceFlag,
			"target_image":  targetFlag,
			"face_index":    0,
			"restore_face":  true,
		}
		if err := runJob(client, baseURL, faceSwapInput); err != nil {
			exitWithError(err)
		}
	}

	fmt.Println("All checks passed")
}

func runJob(client *http.Client, baseURL string, input map[string]any) error {
	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	resp, err := client.Post(baseURL+"/run", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("submit job: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker answered status %d", resp.StatusCode)
	}

	var res result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	if res.Status != "success" {
		return fmt.Errorf("job %s failed: %s", res.JobID, res.Error)
	}

	fmt.Printf("  Job ID: %s\n", res.JobID)
	fmt.Printf("  Output URLs: %d\n", len(res.OutputURLs))
	for _, u := range res.OutputURLs {
		if len(u) > 100 {
			u = u[:100] + "..."
		}
		fmt.Printf("    -> %s\n", u)
	}
	return nil
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "smoketest: %v\n", err)
	os.Exit(1)
}
