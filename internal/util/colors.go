package util

// SpaceColors is the palette cycled through when creating spaces.
var SpaceColors = []string{
	"#e05252",
	"#e08f52",
	"#e0c852",
	"#6fbf73",
	"#52a8e0",
	"#7a6fe0",
	"#bf6fd9",
	"#d96fa8",
}
