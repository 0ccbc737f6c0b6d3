package exact

import "time"

// HTTPRequestTimeout is the default timeout for all HTTP requests to the Exact Online API.
const HTTPRequestTimeout = 60 * time.Second
