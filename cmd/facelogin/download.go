package main

import (
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facelogin/pkg/logging"
)

// modelBaseURL hosts the bzip2 compressed dlib models.
var modelBaseURL = "http://dlib.net/files/"

var modelFiles = []string{
	"shape_predictor_5_face_landmarks.dat",
	"dlib_face_recognition_resnet_model_v1.dat",
	"mmod_human_face_detector.dat",
}

func newDownloadModelsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "download-models [dir]",
		Short: "Download the dlib face recognition models",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := c.cfg.Recognition.ModelPath
			if len(args) > 0 {
				dir = args[0]
			}
			return downloadModels(cmd.Context(), dir)
		},
	}
}

func downloadModels(ctx context.Context, dir string) error {
	logging.Infof("Downloading models to: %s", dir)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Minute}
	for _, name := range modelFiles {
		target := filepath.Join(dir, name)
		if _, err := os.Stat(target); err == nil {
			logging.Infof("Model %s already exists, skipping", name)
			continue
		}

		logging.Infof("Downloading %s...", name)
		if err := downloadAndExtract(ctx, client, modelBaseURL+name+".bz2", target); err != nil {
			return fmt.Errorf("failed to download %s: %w", name, err)
		}
	}

	logging.Info("All models downloaded")
	return nil
}

// downloadAndExtract decompresses into target+".part" and renames it once
// complete.
func downloadAndExtract(ctx context.Context, client *http.Client, url, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	tmp := target + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, bzip2.NewReader(resp.Body)); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, target)
}
