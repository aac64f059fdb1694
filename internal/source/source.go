// Package source resolves heterogeneous video/audio source descriptors into a
// running external decoder and exposes its output as a paced sequence of
// fixed-size raw PCM frames.
//
// A source descriptor is an opaque string: a local file path, a capture
// device identifier, an RTMP/HLS network stream URL, or a hosted-live URL
// that must first be resolved to a direct media URL. Classification is a pure
// function of the string; everything downstream (decoder arguments, reconnect
// flags, capture backend) follows from the classified Kind.
package source

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// Kind is the classified variant of a source descriptor.
type Kind string

const (
	// KindFile is a local media file, decoded directly.
	KindFile Kind = "file"

	// KindDevice is a local capture device (camera/microphone).
	KindDevice Kind = "device"

	// KindNetworkStream is a live RTMP or HLS network stream. The decoder is
	// asked to handle transient network drops itself.
	KindNetworkStream Kind = "network-stream"

	// KindHostedLive is a video-hosting live URL that must be resolved to a
	// direct playable URL before decoding.
	KindHostedLive Kind = "hosted-live"
)

// Well-known device identifiers accepted as capture sources.
var deviceNames = map[string]bool{
	"webcam":      true,
	"0":           true,
	"/dev/video0": true,
}

// Video host domains whose URLs require external resolution.
var hostedLiveDomains = []string{"youtube.com", "youtu.be"}

// Classify determines the Kind of a source descriptor. It is a pure,
// deterministic function of the string; unrecognized descriptors default to
// KindFile.
func Classify(src string) Kind {
	switch {
	case strings.HasPrefix(src, "rtmp://"):
		return KindNetworkStream
	case strings.HasSuffix(src, ".m3u8") || strings.Contains(src, "m3u8"):
		return KindNetworkStream
	case deviceNames[src]:
		return KindDevice
	case isHostedLive(src):
		return KindHostedLive
	default:
		return KindFile
	}
}

func isHostedLive(src string) bool {
	lower := strings.ToLower(src)
	for _, domain := range hostedLiveDomains {
		if strings.Contains(lower, domain) {
			return true
		}
	}
	return false
}

// Resolver turns a hosted-live URL into a direct playable media URL.
// Resolution is a synchronous network operation and may be slow; failure is
// fatal for the resolve step (the source is invalid or unreachable).
type Resolver interface {
	ResolveURL(ctx context.Context, src string) (string, error)
}

// YTDLPResolver resolves hosted-live URLs by shelling out to yt-dlp.
type YTDLPResolver struct {
	// Path is the yt-dlp executable. Defaults to "yt-dlp" when empty.
	Path string
}

// ResolveURL runs `yt-dlp --get-url -f best <src>` and returns the first line
// of its output.
func (r *YTDLPResolver) ResolveURL(ctx context.Context, src string) (string, error) {
	path := r.Path
	if path == "" {
		path = "yt-dlp"
	}
	out, err := exec.CommandContext(ctx, path, "--get-url", "-f", "best", src).Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok && len(ee.Stderr) > 0 {
			return "", fmt.Errorf("source: resolve %q: %s", src, strings.TrimSpace(string(ee.Stderr)))
		}
		return "", fmt.Errorf("source: resolve %q: %w", src, err)
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return "", fmt.Errorf("source: resolve %q: resolver returned no URL", src)
	}
	return strings.TrimSpace(lines[0]), nil
}

// goos is swapped out in tests to exercise per-platform device arguments.
var goos = runtime.GOOS

// BuildArgs resolves src and returns the complete decoder argument list: raw
// s16le mono PCM to stdout, no video, no container, frame pacing left to the
// caller. For hosted-live sources it performs the external URL resolution via
// resolver.
func BuildArgs(ctx context.Context, src string, resolver Resolver, sampleRate, channels int) ([]string, error) {
	args := []string{"-hide_banner", "-loglevel", "warning", "-nostdin"}

	switch Classify(src) {
	case KindHostedLive:
		resolved, err := resolver.ResolveURL(ctx, src)
		if err != nil {
			return nil, err
		}
		args = append(args, "-i", resolved)

	case KindNetworkStream:
		if strings.HasPrefix(src, "rtmp://") {
			// rtmp has no reconnect option; bound stalled reads instead.
			args = append(args, "-rw_timeout", "10000000")
		} else {
			// HLS over HTTP: let the decoder ride out transient drops.
			args = append(args, "-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5")
		}
		args = append(args, "-i", src)

	case KindDevice:
		args = append(args, deviceArgs()...)

	default: // KindFile
		args = append(args, "-i", src)
	}

	args = append(args,
		"-vn",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-fflags", "nobuffer+flush_packets",
		"pipe:1",
	)
	return args, nil
}

// deviceArgs selects the capture backend for the host platform.
func deviceArgs() []string {
	switch goos {
	case "windows":
		return []string{"-f", "dshow", "-i", "video=Integrated Camera"}
	case "darwin":
		return []string{"-f", "avfoundation", "-i", "default"}
	default:
		return []string{"-f", "v4l2", "-i", "/dev/video0"}
	}
}
