package framegrab

import "github.com/edaniels/golog"

// Logger is used by various parts of the package for logging.
var Logger = golog.Global().Named("framegrab")
