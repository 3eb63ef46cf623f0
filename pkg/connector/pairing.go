// Copyright 2024-2026 Aiku AI

package connector

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

// qrImageSize is the edge length in pixels of the PNG served at GET /qr.
const qrImageSize = 256

// RenderQRPNG renders a pairing code as a PNG image.
func RenderQRPNG(code string) ([]byte, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}
	return png, nil
}

// RenderQRTerminal renders a pairing code as block characters for a terminal.
func RenderQRTerminal(code string) (string, error) {
	qr, err := qrcode.New(code, qrcode.Low)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	return qr.ToSmallString(false), nil
}

// PairingCode returns the pending pairing code, or "" if none is pending.
func (c *WhatsAppClient) PairingCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pairingCode
}

func (c *WhatsAppClient) handlePairingCode(sess Session, code string) {
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return
	}
	c.pairingCode = code
	c.mu.Unlock()

	c.log.Info().Msg("Scan the QR code with WhatsApp to pair this device")
	if c.qrOut == nil {
		return
	}
	rendered, err := RenderQRTerminal(code)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to render QR code")
		return
	}
	_, _ = fmt.Fprintln(c.qrOut, rendered)
}

func (c *WhatsAppClient) handlePaired(sess Session, id string) {
	c.mu.Lock()
	if c.session != sess {
		c.mu.Unlock()
		return
	}
	c.pairingCode = ""
	c.mu.Unlock()

	c.log.Info().Str("device_id", id).Msg("Device paired")
}
