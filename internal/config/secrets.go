package config

import "slices"

const redacted = "***"

// Redacted returns a copy of c that is safe to log: the store password, the
// Postgres DSN and the S3 keys are masked. Feeds are cloned.
func (c *Config) Redacted() Config {
	out := *c
	out.Feeds = slices.Clone(c.Feeds)
	for _, s := range []*string{
		&out.Redis.Password,
		&out.Postgres.DSN,
		&out.S3.AccessKey,
		&out.S3.SecretKey,
	} {
		if *s != "" {
			*s = redacted
		}
	}
	return out
}
