package banner

import (
	"isoflow/internal/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

const ascii = `
    _            ______
   (_)________  / __/ /___ _      __
  / / ___/ __ \/ /_/ / __ \ | /| / /
 / (__  ) /_/ / __/ / /_/ / |/ |/ /
/_/____/\____/_/ /_/\____/|__/|__/  `

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	tagline := renderer.NewStyle().Foreground(styles.ColorSubtle).
		Render("  isochronous traffic flows under one deadline")

	return "\n" + style.Render(ascii) + "\n" + tagline + "\n"
}
