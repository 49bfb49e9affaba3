package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Palette
	slateBlue = lipgloss.Color("#6a9bcc")
	amber     = lipgloss.Color("#d9a757")
	moss      = lipgloss.Color("#788c5d")
	midGray   = lipgloss.Color("#b0aea5")

	primaryColor = slateBlue
	accentColor  = amber
	successColor = moss
	errorColor   = lipgloss.Color("#c45c4a")
	warningColor = amber
	dimTextColor = midGray

	// App frame
	appStyle = lipgloss.NewStyle().
			Padding(1, 2)

	// Logo
	logoStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	// Tabs
	activeTabStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(primaryColor).
			Padding(0, 2).
			Bold(true)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(dimTextColor).
				Padding(0, 2)

	// Status indicators
	statusOK = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	statusFail = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	statusTimeout = lipgloss.NewStyle().
			Foreground(warningColor).
			Bold(true)

	// Help
	helpKeyStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	helpDescStyle = lipgloss.NewStyle().
			Foreground(dimTextColor)

	// Misc
	subtitleStyle = lipgloss.NewStyle().
			Foreground(dimTextColor).
			Italic(true)

	errorMsgStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	// Box for empty state
	emptyBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(dimTextColor).
			Foreground(dimTextColor).
			Padding(2, 4).
			Align(lipgloss.Center)
)
