// Package connector groups the building blocks of the WithSecure
// security-events connector.
//
// # Architecture Overview
//
// The connector package is organized into several sub-packages:
//
//   - core: Defines the contracts shared by every component: Event, Page,
//     Sink and WatermarkStore, plus the watermark arithmetic.
//
//   - sources/withsecure: The paginated fetcher for the WithSecure Elements
//     security-events API and the assembler that turns pages into batches
//     and tracks the next watermark.
//
//   - destinations: Sink implementations (intake, file, kafka, s3). Each
//     sink registers itself with the registry from init().
//
//   - registry: Maps the configured sink type to its factory.
//
// # Delivery
//
// Events are delivered at least once. The watermark only moves after a cycle
// has pushed all of its pages, so a crash or a failed push replays the
// affected events on the next cycle.
package connector
