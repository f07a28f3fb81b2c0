package model

// AppError is the shared error payload carried by every stage-specific error
// type in this tool. Stage identifies where the failure happened
// ("config" / "fetch_source" / "merge" / "write_artifact").
type AppError struct {
	Code    string
	Message string
	Stage   string

	URL     string
	Snippet string // <= 200 chars recommended
	Hint    string
}
