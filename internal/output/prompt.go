package output

import (
	"errors"
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"golang.org/x/term"
)

// ErrPromptAborted is returned when the user interrupts a prompt.
var ErrPromptAborted = errors.New("prompt aborted")

// IsInteractive reports whether stdin is a terminal, so prompts can be shown.
func IsInteractive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// PassphrasePrompt asks for a masked passphrase. With confirm set, the
// passphrase is asked twice and must match.
func PassphrasePrompt(label string, confirm bool) (string, error) {
	first, err := runMasked(label)
	if err != nil {
		return "", err
	}
	if !confirm {
		return first, nil
	}
	second, err := runMasked("Repeat " + label)
	if err != nil {
		return "", err
	}
	if first != second {
		return "", fmt.Errorf("passphrases do not match")
	}
	return first, nil
}

func runMasked(label string) (string, error) {
	prompt := promptui.Prompt{
		Label: label,
		Mask:  '*',
	}
	result, err := prompt.Run()
	if err == promptui.ErrInterrupt || err == promptui.ErrEOF {
		return "", ErrPromptAborted
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", label, err)
	}
	return result, nil
}

// ConfirmPrompt asks a yes/no question; anything but yes is a no.
func ConfirmPrompt(label string) bool {
	prompt := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	_, err := prompt.Run()
	return err == nil
}

// SelectItem is one choice in SelectPrompt.
type SelectItem struct {
	Name        string
	Description string
}

// SelectPrompt lets the user pick one of items and returns its index.
func SelectPrompt(label string, items []SelectItem) (int, error) {
	if len(items) == 0 {
		return 0, fmt.Errorf("nothing to select for %s", label)
	}
	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "▸ {{ .Name | cyan }}{{ if .Description }} - {{ .Description | faint }}{{ end }}",
		Inactive: "  {{ .Name }}{{ if .Description }} - {{ .Description | faint }}{{ end }}",
		Selected: "✓ {{ .Name | green }} selected",
	}
	prompt := promptui.Select{
		Label:     label,
		Items:     items,
		Templates: templates,
		Size:      8,
	}
	index, _, err := prompt.Run()
	if err == promptui.ErrInterrupt || err == promptui.ErrEOF {
		return 0, ErrPromptAborted
	}
	if err != nil {
		return 0, fmt.Errorf("failed to select %s: %w", label, err)
	}
	return index, nil
}
