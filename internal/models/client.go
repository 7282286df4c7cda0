package models

// Client is a submitted client record as returned by the intake backend.
type Client struct {
	ID    string       `json:"_id" msgpack:"id"`
	Name  string       `json:"name" msgpack:"name"`
	Email string       `json:"email" msgpack:"email"`
	Phone string       `json:"phone" msgpack:"phone"`
	Files []ClientFile `json:"files" msgpack:"files"`
}

// ClientFile is one downloadable attachment of a client.
type ClientFile struct {
	Key   string `json:"_key" msgpack:"key"`
	Asset Asset  `json:"asset" msgpack:"asset"`
}

// Asset locates the stored file.
type Asset struct {
	URL string `json:"url" msgpack:"url"`
}
