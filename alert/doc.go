// Package alert delivers security alerts raised by the session monitor.
//
// A [Sink] receives each [Alert] once. [LogSink] writes a structured log
// line, [SendGridSink] emails the configured recipients, [ChannelSink]
// buffers alerts for in-process consumers and [MultiSink] fans out.
package alert
