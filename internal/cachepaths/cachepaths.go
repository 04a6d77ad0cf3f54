// Package cachepaths auto-discovers well-known Chromium-derived browser
// cache directories so a caller doesn't have to type a path by hand. It
// only produces model.CachePathInfo values; it has no UI of its own.
package cachepaths

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/cachephoenix/cachephoenix/internal/model"
)

type candidate struct {
	clientName string
	// relPath is appended to the platform-specific base directory.
	relPath string
}

// macOS "Application Support" relative paths for each client's Cache_Data.
var macCandidates = []candidate{
	{model.ClientDiscord, "discord/Cache/Cache_Data"},
	{model.ClientDiscordPTB, "discordptb/Cache/Cache_Data"},
	{model.ClientDiscordCanary, "discordcanary/Cache/Cache_Data"},
	{model.ClientChrome, "Google/Chrome/Default/Cache/Cache_Data"},
	{model.ClientBrave, "BraveSoftware/Brave-Browser/Default/Cache/Cache_Data"},
	{model.ClientEdge, "Microsoft Edge/Default/Cache/Cache_Data"},
	{model.ClientOpera, "com.operasoftware.Opera/Cache/Cache_Data"},
}

// Linux XDG-config-relative paths (most Chromium-family apps on Linux keep
// cache under ~/.config/<app>/... rather than ~/.cache, matching upstream
// Electron/Chromium behavior on that platform).
var linuxCandidates = []candidate{
	{model.ClientDiscord, ".config/discord/Cache/Cache_Data"},
	{model.ClientDiscordPTB, ".config/discordptb/Cache/Cache_Data"},
	{model.ClientDiscordCanary, ".config/discordcanary/Cache/Cache_Data"},
	{model.ClientChrome, ".config/google-chrome/Default/Cache/Cache_Data"},
	{model.ClientBrave, ".config/BraveSoftware/Brave-Browser/Default/Cache/Cache_Data"},
	{model.ClientEdge, ".config/microsoft-edge/Default/Cache/Cache_Data"},
	{model.ClientOpera, ".config/opera/Cache/Cache_Data"},
}

// CandidatePaths returns every well-known cache directory for the current
// platform, each stat'd for existence/file_count/total_size.
func CandidatePaths() []model.CachePathInfo {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	var candidates []candidate
	var base string
	switch runtime.GOOS {
	case "darwin":
		candidates = macCandidates
		base = filepath.Join(home, "Library", "Application Support")
	default:
		candidates = linuxCandidates
		base = home
	}

	out := make([]model.CachePathInfo, 0, len(candidates))
	for _, c := range candidates {
		path := filepath.Join(base, c.relPath)
		out = append(out, stat(path, c.clientName))
	}
	return out
}

func stat(path, clientName string) model.CachePathInfo {
	info := model.CachePathInfo{Path: path, ClientName: clientName}

	entries, err := os.ReadDir(path)
	if err != nil {
		return info
	}
	info.Exists = true

	var count int
	var total int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		count++
		total += fi.Size()
	}
	info.FileCount = count
	info.TotalSize = total
	return info
}

// Custom builds a CachePathInfo for a user-supplied path, stat'd the same
// way as the well-known candidates.
func Custom(path string) model.CachePathInfo {
	return stat(path, model.ClientCustom)
}
