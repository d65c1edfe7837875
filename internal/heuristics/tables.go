package heuristics

import "strings"

// extConcept ties a family of extensions to folder-text hints, so a file
// type can attract folders whose wording evokes that activity.
type extConcept struct {
	exts  []string
	hints []string
}

var extConcepts = []extConcept{
	{
		exts:  []string{".stl", ".obj", ".3mf", ".gcode", ".step", ".stp", ".scad"},
		hints: []string{"3d", "print", "cad", "model", "maker"},
	},
	{
		exts:  []string{".jpg", ".jpeg", ".png", ".heic", ".raw", ".cr2", ".nef", ".tiff"},
		hints: []string{"photo", "picture", "image", "camera", "album"},
	},
	{
		exts:  []string{".mp3", ".flac", ".wav", ".m4a", ".ogg", ".aiff"},
		hints: []string{"music", "audio", "song", "album", "podcast"},
	},
	{
		exts:  []string{".mp4", ".mov", ".mkv", ".avi", ".webm"},
		hints: []string{"video", "movie", "film", "footage"},
	},
	{
		exts:  []string{".go", ".py", ".js", ".ts", ".java", ".rs", ".c", ".cpp", ".rb"},
		hints: []string{"code", "source", "dev", "software", "programming"},
	},
	{
		exts:  []string{".psd", ".ai", ".sketch", ".fig", ".svg", ".xd"},
		hints: []string{"design", "art", "graphic", "mockup", "creative"},
	},
}

func conceptForExt(ext string) *extConcept {
	for i := range extConcepts {
		for _, e := range extConcepts[i].exts {
			if e == ext {
				return &extConcepts[i]
			}
		}
	}
	return nil
}

// topic maps filename substrings to a built-in category. Slice order is the
// tiebreak: earlier topics win when a filename matches more than one.
type topic struct {
	category string
	words    []string
}

var topics = []topic{
	{"Finance", []string{"invoice", "receipt", "budget", "tax", "statement", "payroll", "expense", "salary", "bank", "payment"}},
	{"Legal", []string{"contract", "agreement", "nda", "license", "terms", "deed", "compliance", "policy"}},
	{"Projects", []string{"project", "proposal", "roadmap", "sprint", "milestone", "plan"}},
	{"Personal", []string{"passport", "resume", "medical", "insurance", "family", "vacation", "recipe"}},
	{"Technical", []string{"manual", "api", "config", "schema", "architecture", "readme", "changelog", "documentation"}},
	{"Research", []string{"research", "paper", "study", "thesis", "survey", "dataset", "analysis"}},
	{"Marketing", []string{"campaign", "brand", "newsletter", "promo", "audience", "social"}},
	{"HR", []string{"onboarding", "employee", "hiring", "offer", "performance", "timesheet", "benefits"}},
}

func topicalCategory(base string) string {
	for _, t := range topics {
		for _, w := range t.words {
			if strings.Contains(base, w) {
				return t.category
			}
		}
	}
	return ""
}

var extCategories = map[string]string{
	".pdf": "Documents", ".doc": "Documents", ".docx": "Documents",
	".odt": "Documents", ".txt": "Documents", ".rtf": "Documents", ".md": "Documents",
	".xls": "Spreadsheets", ".xlsx": "Spreadsheets", ".csv": "Spreadsheets", ".ods": "Spreadsheets",
	".ppt": "Presentations", ".pptx": "Presentations", ".key": "Presentations",
	".jpg": "Pictures", ".jpeg": "Pictures", ".png": "Pictures", ".gif": "Pictures",
	".heic": "Pictures", ".svg": "Pictures", ".tiff": "Pictures", ".bmp": "Pictures",
	".mp3": "Music", ".flac": "Music", ".wav": "Music", ".m4a": "Music", ".ogg": "Music",
	".mp4": "Videos", ".mov": "Videos", ".mkv": "Videos", ".avi": "Videos", ".webm": "Videos",
	".zip": "Archives", ".tar": "Archives", ".gz": "Archives", ".rar": "Archives", ".7z": "Archives",
	".go": "Code", ".py": "Code", ".js": "Code", ".ts": "Code", ".java": "Code",
	".rs": "Code", ".c": "Code", ".cpp": "Code", ".rb": "Code", ".sh": "Code",
	".stl": "3D Models", ".obj": "3D Models", ".3mf": "3D Models", ".gcode": "3D Models",
}

func extensionCategory(ext string) string {
	return extCategories[ext]
}

var mediaExts = map[string]bool{
	".mp3": true, ".flac": true, ".wav": true, ".m4a": true, ".ogg": true, ".aiff": true,
	".mp4": true, ".mov": true, ".mkv": true, ".avi": true, ".webm": true, ".wmv": true,
	".mpg": true, ".mpeg": true,
}

// IsMedia reports whether the extension names an audio or video container.
// Media files skip content extraction entirely.
func IsMedia(ext string) bool {
	return mediaExts[strings.ToLower(ext)]
}
