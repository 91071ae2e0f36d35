package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/andresmejia3/limblift/internal/types"
)

// Die is the unified exit strategy for limblift.
// It prints a formatted error box with a hint for the known error kinds.
func Die(context string, err error) {
	fmt.Fprintf(os.Stderr, "\n---------------------------------------------------------\n")
	fmt.Fprintf(os.Stderr, "🚨 LIMBLIFT ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(os.Stderr, "DETAILS: %v\n", err)
		if hint := Hint(err); hint != "" {
			fmt.Fprintf(os.Stderr, "\nHINT: %s\n", hint)
		}
	}
	fmt.Fprintf(os.Stderr, "---------------------------------------------------------\n")
	os.Exit(1)
}

// Hint returns a short remedy for the solver's error kinds, or "".
func Hint(err error) string {
	switch {
	case errors.Is(err, types.ErrInvalidInput):
		return "check segment lengths, the initial guess and the tracked coordinates for zero, negative or NaN values"
	case errors.Is(err, types.ErrOptimizationFailure):
		return "a frame could not be fitted; rerun with --on-failure=skip to keep the rest of the sequence"
	}
	return ""
}

// GenerateVideoID creates a deterministic hash for the tracking file
// based on its path, size, and modification time.
func GenerateVideoID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}
