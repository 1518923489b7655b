// Package influx provides the storage output component: it consumes
// feature records from the features subject and writes them to
// InfluxDB as points tagged by device.
//
// Writes are synchronous per record so the JetStream acknowledgement
// tracks actual persistence: a record is acked only after InfluxDB
// accepted it, and write failures nak so the server redelivers once
// the database is reachable again.
package influx
