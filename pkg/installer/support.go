// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package installer

import (
	"context"
	"fmt"
	"path/filepath"
)

// SupportModel is an auxiliary model installed alongside the diffusion
// weights: upscalers, face restoration, the safety checker. Exactly one
// of URL or SourceReference is set; URL artifacts are plain downloads,
// SourceReference artifacts are Hub repo snapshots.
type SupportModel struct {
	Name            string
	URL             string
	SourceReference string
	// Dest is the destination path relative to the model cache dir.
	// Empty for snapshots, which land under their source reference.
	Dest string
}

// SupportModels returns the fixed set of auxiliary models.
func SupportModels() []SupportModel {
	return []SupportModel{
		{
			Name:            "tokenizer (BERT)",
			SourceReference: "google-bert/bert-base-uncased",
		},
		{
			Name:            "text encoder (CLIP)",
			SourceReference: "openai/clip-vit-large-patch14",
		},
		{
			Name:            "inpainting mask (CLIPSeg)",
			SourceReference: "CIDAS/clipseg-rd64-refined",
		},
		{
			Name: "upscaler (RealESRGAN)",
			URL:  "https://github.com/xinntao/Real-ESRGAN/releases/download/v0.2.5.0/realesr-general-x4v3.pth",
			Dest: "realesrgan/realesr-general-x4v3.pth",
		},
		{
			Name: "face restoration (GFPGAN)",
			URL:  "https://github.com/TencentARC/GFPGAN/releases/download/v1.3.0/GFPGANv1.4.pth",
			Dest: "gfpgan/GFPGANv1.4.pth",
		},
		{
			Name: "face detection (GFPGAN weights)",
			URL:  "https://github.com/xinntao/facexlib/releases/download/v0.1.0/detection_Resnet50_Final.pth",
			Dest: "gfpgan/weights/detection_Resnet50_Final.pth",
		},
		{
			Name: "face parsing (GFPGAN weights)",
			URL:  "https://github.com/xinntao/facexlib/releases/download/v0.2.2/parsing_parsenet.pth",
			Dest: "gfpgan/weights/parsing_parsenet.pth",
		},
		{
			Name: "face restoration (CodeFormer)",
			URL:  "https://github.com/sczhou/CodeFormer/releases/download/v0.1.0/codeformer.pth",
			Dest: "codeformer/codeformer.pth",
		},
		{
			Name:            "NSFW content detection",
			SourceReference: "CompVis/stable-diffusion-safety-checker",
		},
	}
}

// InstallSupportModels downloads the auxiliary models through the same
// resumable fetcher as the main weights, one at a time. Failures are
// collected per model; the batch always runs to the end.
func (in *Installer) InstallSupportModels(ctx context.Context) []error {
	var errs []error
	for _, sm := range SupportModels() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		in.emit(ProgressEvent{Event: "model_start", Model: sm.Name})

		var err error
		if sm.URL != "" {
			dest := filepath.Join(in.paths.ModelsDir, filepath.FromSlash(sm.Dest))
			_, err = in.fetchWithRetry(ctx, sm.Name, sm.URL, dest)
		} else {
			destDir := filepath.Join(in.paths.ModelsDir, filepath.FromSlash(sm.SourceReference))
			_, err = in.client.FetchRepo(ctx, sm.SourceReference, destDir)
		}
		if err != nil {
			in.emit(ProgressEvent{Level: "error", Event: "error", Model: sm.Name, Message: err.Error()})
			errs = append(errs, fmt.Errorf("%s: %w", sm.Name, err))
			continue
		}
		in.emit(ProgressEvent{Event: "model_done", Model: sm.Name})
	}
	return errs
}
