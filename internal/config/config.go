package config

import (
	"flag"
)

type Config struct {
	StoreFile  string
	BufferSize int
	Address    string
	Token      string // empty disables auth
}

func NewConfig() *Config {
	f := flag.String("STORE_FILE", "db/stringdb.data", "store file")
	b := flag.Int("BUFFER_SIZE", 4096, "insert buffer capacity")
	a := flag.String("ADDRESS", "127.0.0.1:3200", "listen address")
	t := flag.String("TOKEN", "", "shared auth token")
	flag.Parse()

	return &Config{
		StoreFile:  *f,
		BufferSize: *b,
		Address:    *a,
		Token:      *t,
	}
}
