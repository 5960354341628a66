// Package destinations links every sink into the binary. Importing it
// registers intake, file, kafka and s3 with the sink registry.
package destinations

import (
	// Import all sinks to trigger init() registration
	_ "github.com/ajitpratap0/withsecure-connector/pkg/connector/destinations/file"
	_ "github.com/ajitpratap0/withsecure-connector/pkg/connector/destinations/intake"
	_ "github.com/ajitpratap0/withsecure-connector/pkg/connector/destinations/kafka"
	_ "github.com/ajitpratap0/withsecure-connector/pkg/connector/destinations/s3"
)
