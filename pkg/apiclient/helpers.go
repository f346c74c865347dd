package apiclient

import "fmt"

// Unexported generics that keep the resource files free of repeated
// HTTP boilerplate.

// getResource performs a GET request to the given path and decodes the
// response body into a value of type T. Returns a pointer to the decoded
// value.
func getResource[T any](c *Client, path string) (*T, error) {
	var result T
	if err := c.get(path, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// listResources performs a GET request to the given path and decodes the
// response body into a slice of type T.
func listResources[T any](c *Client, path string) ([]T, error) {
	var results []T
	if err := c.get(path, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// postResource performs a POST request to the given path with the provided
// body and decodes the response into a value of type T.
func postResource[T any](c *Client, path string, body any) (*T, error) {
	var result T
	if err := c.post(path, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// resourcePath builds a resource path by formatting a path template with the
// given arguments using fmt.Sprintf.
func resourcePath(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
