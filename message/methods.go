package message

// Operation names understood by the file service. Anything else is MethodNotFound.
const (
	MethodListDir     = "list_dir"
	MethodWriteToFile = "write_to_file"
	MethodDeleteFile  = "delete_file"
	MethodGetHash     = "get_hash"
)
