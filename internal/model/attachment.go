// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// ATTACHMENTS
// =============================================================================

// Attachment is an image carried by a message, either uploaded by the
// user or generated by the backend mid-stream.
type Attachment struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	MIME   string `json:"mime"`
	Base64 string `json:"base64"`
}

// DataURL renders the attachment as a data: URL for inline display.
func (a *Attachment) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", a.MIME, a.Base64)
}

// AttachmentsFromImages converts raw base64 payloads from a stream
// frame into attachments. Frames carry no content type, so images are
// assumed PNG.
func AttachmentsFromImages(images []string) []Attachment {
	if len(images) == 0 {
		return nil
	}
	out := make([]Attachment, 0, len(images))
	for i, img := range images {
		out = append(out, Attachment{
			ID:     uuid.NewString(),
			Name:   fmt.Sprintf("generated-%d.png", i+1),
			MIME:   "image/png",
			Base64: img,
		})
	}
	return out
}
