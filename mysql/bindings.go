package mysql

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

// define all package level errors here
var (
	ErrConnClosed = errors.New("mysql: connection closed")
	ErrStmtClosed = errors.New("mysql: statement closed")
)

// define all necessary constants first

// mysql_stmt_fetch outcomes beyond plain success; everything else the call
// returns is an error.
const (
	MYSQL_NO_DATA        int32 = 100
	MYSQL_DATA_TRUNCATED int32 = 101
)

type mysql_field_type_t int32

// Every result column and text parameter is bound as MYSQL_TYPE_STRING: the
// client library converts server types to their text form, which is what the
// byte-buffer bind table carries.
const MYSQL_TYPE_STRING mysql_field_type_t = 254

type mysql_option_t int32

const (
	MYSQL_OPT_CONNECT_TIMEOUT mysql_option_t = 0
	MYSQL_SET_CHARSET_NAME    mysql_option_t = 7
	MYSQL_OPT_READ_TIMEOUT    mysql_option_t = 11
	MYSQL_OPT_WRITE_TIMEOUT   mysql_option_t = 12
)

// define opaque pointers as-is and accept them as exact arguments
type mysql_t struct{}
type mysql_stmt_t struct{}
type mysql_res_t struct{}

type MysqlHandle *mysql_t
type MysqlStmt *mysql_stmt_t
type MysqlRes *mysql_res_t

// define all necessary private C structs
// private C structs MUST have fields with low level types (e.g. uintptr, numbers)

// c_mysql_bind_t mirrors MYSQL_BIND from the 8.x mysql.h on LP64 platforms
// (112 bytes). The client library copies the array passed to
// mysql_stmt_bind_result but keeps the Buffer/Length/IsNull pointers, so the
// pointed-to Go memory must stay pinned until the next registration.
type c_mysql_bind_t struct {
	Length       *uint64        // unsigned long*, value's true length
	IsNull       *byte          // bool*
	Buffer       unsafe.Pointer // void*
	Error        *byte          // bool*, per-column truncation flag
	RowPtr       uintptr        // unsigned char*, internal
	StoreParam   uintptr        // internal function pointer
	FetchResult  uintptr        // internal function pointer
	SkipResult   uintptr        // internal function pointer
	BufferLength uint64         // unsigned long
	Offset       uint64         // unsigned long
	LengthValue  uint64         // unsigned long, used when Length is nil
	ParamNumber  uint32
	PackLength   uint32
	BufferType   int32 // enum_field_types
	ErrorValue   byte  // bool, used when Error is nil
	IsUnsigned   byte  // bool
	LongDataUsed byte  // bool
	IsNullValue  byte  // bool, used when IsNull is nil
	Extension    uintptr
}

// c_mysql_field_t mirrors the leading fields of MYSQL_FIELD. The struct is
// only ever allocated by the client library; declaring a prefix is enough to
// read the fields consumed on this side.
type c_mysql_field_t struct {
	Name      uintptr // char*
	OrgName   uintptr // char*
	Table     uintptr // char*
	OrgTable  uintptr // char*
	Db        uintptr // char*
	Catalog   uintptr // char*
	Def       uintptr // char*
	Length    uint64  // unsigned long, declared display width
	MaxLength uint64  // unsigned long, longest value in a stored result
}

// then, define C extern methods
var (
	// always use c_ structs here - never mix them with exported public types
	c_mysql_init func(
		mysql unsafe.Pointer, // MYSQL* | NULL
	) unsafe.Pointer // MYSQL*

	c_mysql_options func(
		mysql unsafe.Pointer, // MYSQL*
		option int32, // enum mysql_option
		arg unsafe.Pointer, // const void*
	) int32

	c_mysql_real_connect func(
		mysql unsafe.Pointer, // MYSQL*
		host unsafe.Pointer, // const char* | NULL
		user unsafe.Pointer, // const char* | NULL
		passwd unsafe.Pointer, // const char* | NULL
		db unsafe.Pointer, // const char* | NULL
		port uint32,
		unixSocket unsafe.Pointer, // const char* | NULL
		clientFlag uint64,
	) unsafe.Pointer // MYSQL* | NULL on failure

	c_mysql_ping func(
		mysql unsafe.Pointer, // MYSQL*
	) int32

	c_mysql_close func(
		mysql unsafe.Pointer, // MYSQL*
	)

	c_mysql_error func(
		mysql unsafe.Pointer, // MYSQL*
	) unsafe.Pointer // const char*, owned by the handle

	c_mysql_errno func(
		mysql unsafe.Pointer, // MYSQL*
	) uint32

	c_mysql_get_client_info func() unsafe.Pointer // const char*, static

	c_mysql_stmt_init func(
		mysql unsafe.Pointer, // MYSQL*
	) unsafe.Pointer // MYSQL_STMT* | NULL

	c_mysql_stmt_prepare func(
		stmt unsafe.Pointer, // MYSQL_STMT*
		query string, // const char*
		length uint64,
	) int32

	c_mysql_stmt_param_count func(
		stmt unsafe.Pointer, // MYSQL_STMT*
	) uint64

	c_mysql_stmt_bind_param func(
		stmt unsafe.Pointer, // MYSQL_STMT*
		binds unsafe.Pointer, // MYSQL_BIND*
	) bool // true on failure

	c_mysql_stmt_execute func(
		stmt unsafe.Pointer, // MYSQL_STMT*
	) int32

	c_mysql_stmt_field_count func(
		stmt unsafe.Pointer, // MYSQL_STMT*
	) uint32

	c_mysql_stmt_result_metadata func(
		stmt unsafe.Pointer, // MYSQL_STMT*
	) unsafe.Pointer // MYSQL_RES* | NULL for statements without a result set

	c_mysql_stmt_bind_result func(
		stmt unsafe.Pointer, // MYSQL_STMT*
		binds unsafe.Pointer, // MYSQL_BIND*
	) bool // true on failure

	c_mysql_stmt_fetch func(
		stmt unsafe.Pointer, // MYSQL_STMT*
	) int32 // 0 | 1 | MYSQL_NO_DATA | MYSQL_DATA_TRUNCATED

	c_mysql_stmt_fetch_column func(
		stmt unsafe.Pointer, // MYSQL_STMT*
		bind unsafe.Pointer, // MYSQL_BIND*
		column uint32,
		offset uint64,
	) int32

	c_mysql_stmt_store_result func(
		stmt unsafe.Pointer, // MYSQL_STMT*
	) int32

	c_mysql_stmt_reset func(
		stmt unsafe.Pointer, // MYSQL_STMT*
	) bool // true on failure

	c_mysql_stmt_free_result func(
		stmt unsafe.Pointer, // MYSQL_STMT*
	) bool // true on failure

	c_mysql_stmt_close func(
		stmt unsafe.Pointer, // MYSQL_STMT*
	) bool // true on failure

	c_mysql_stmt_error func(
		stmt unsafe.Pointer, // MYSQL_STMT*
	) unsafe.Pointer // const char*, owned by the statement

	c_mysql_stmt_errno func(
		stmt unsafe.Pointer, // MYSQL_STMT*
	) uint32

	c_mysql_fetch_field_direct func(
		res unsafe.Pointer, // MYSQL_RES*
		fieldnr uint32,
	) unsafe.Pointer // MYSQL_FIELD*

	c_mysql_free_result func(
		res unsafe.Pointer, // MYSQL_RES*
	)
)

// implement a function to register extern methods from loaded lib
// DO NOT load lib - as it will be done externally
func register_mysql(handle uintptr) error {
	purego.RegisterLibFunc(&c_mysql_init, handle, "mysql_init")
	purego.RegisterLibFunc(&c_mysql_options, handle, "mysql_options")
	purego.RegisterLibFunc(&c_mysql_real_connect, handle, "mysql_real_connect")
	purego.RegisterLibFunc(&c_mysql_ping, handle, "mysql_ping")
	purego.RegisterLibFunc(&c_mysql_close, handle, "mysql_close")
	purego.RegisterLibFunc(&c_mysql_error, handle, "mysql_error")
	purego.RegisterLibFunc(&c_mysql_errno, handle, "mysql_errno")
	purego.RegisterLibFunc(&c_mysql_get_client_info, handle, "mysql_get_client_info")
	purego.RegisterLibFunc(&c_mysql_stmt_init, handle, "mysql_stmt_init")
	purego.RegisterLibFunc(&c_mysql_stmt_prepare, handle, "mysql_stmt_prepare")
	purego.RegisterLibFunc(&c_mysql_stmt_param_count, handle, "mysql_stmt_param_count")
	purego.RegisterLibFunc(&c_mysql_stmt_bind_param, handle, "mysql_stmt_bind_param")
	purego.RegisterLibFunc(&c_mysql_stmt_execute, handle, "mysql_stmt_execute")
	purego.RegisterLibFunc(&c_mysql_stmt_field_count, handle, "mysql_stmt_field_count")
	purego.RegisterLibFunc(&c_mysql_stmt_result_metadata, handle, "mysql_stmt_result_metadata")
	purego.RegisterLibFunc(&c_mysql_stmt_bind_result, handle, "mysql_stmt_bind_result")
	purego.RegisterLibFunc(&c_mysql_stmt_fetch, handle, "mysql_stmt_fetch")
	purego.RegisterLibFunc(&c_mysql_stmt_fetch_column, handle, "mysql_stmt_fetch_column")
	purego.RegisterLibFunc(&c_mysql_stmt_store_result, handle, "mysql_stmt_store_result")
	purego.RegisterLibFunc(&c_mysql_stmt_reset, handle, "mysql_stmt_reset")
	purego.RegisterLibFunc(&c_mysql_stmt_free_result, handle, "mysql_stmt_free_result")
	purego.RegisterLibFunc(&c_mysql_stmt_close, handle, "mysql_stmt_close")
	purego.RegisterLibFunc(&c_mysql_stmt_error, handle, "mysql_stmt_error")
	purego.RegisterLibFunc(&c_mysql_stmt_errno, handle, "mysql_stmt_errno")
	purego.RegisterLibFunc(&c_mysql_fetch_field_direct, handle, "mysql_fetch_field_direct")
	purego.RegisterLibFunc(&c_mysql_free_result, handle, "mysql_free_result")
	return nil
}

// Helpers

func copyCString(p unsafe.Pointer) string {
	if p == nil {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
	}
	if n == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), n))
}

func cStringPtr(s string) (ptr unsafe.Pointer, keepAlive func()) {
	// Allocate Go memory with null terminator; valid during the call.
	// Empty strings become NULL, which selects the client default.
	if len(s) == 0 {
		return nil, func() {}
	}
	b := make([]byte, len(s)+1)
	copy(b, s)
	return unsafe.Pointer(&b[0]), func() { runtime.KeepAlive(b) }
}

// connErr builds an error from the connection handle's diagnostic area.
func connErr(h MysqlHandle, op string) error {
	if msg := mysql_error(h); msg != "" {
		return fmt.Errorf("mysql: %s: %s (errno %d)", op, msg, mysql_errno(h))
	}
	return fmt.Errorf("mysql: %s failed", op)
}

// stmtErr builds an error from the statement's diagnostic area.
func stmtErr(s MysqlStmt, op string) error {
	if msg := mysql_stmt_error(s); msg != "" {
		return fmt.Errorf("mysql: %s: %s (errno %d)", op, msg, mysql_stmt_errno(s))
	}
	return fmt.Errorf("mysql: %s failed", op)
}

// Go wrappers over imported C bindings

/** Allocate a client handle */
func mysql_init() (MysqlHandle, error) {
	h := c_mysql_init(nil)
	if h == nil {
		return nil, errors.New("mysql: out of memory initializing client handle")
	}
	return MysqlHandle(h), nil
}

/** Set a connect option taking an unsigned int argument */
func mysql_options_uint(h MysqlHandle, option mysql_option_t, value uint32) error {
	v := value
	ret := c_mysql_options(unsafe.Pointer(h), int32(option), unsafe.Pointer(&v))
	runtime.KeepAlive(&v)
	if ret != 0 {
		return connErr(h, "set option")
	}
	return nil
}

/** Set a connect option taking a C string argument */
func mysql_options_string(h MysqlHandle, option mysql_option_t, value string) error {
	ptr, keep := cStringPtr(value)
	ret := c_mysql_options(unsafe.Pointer(h), int32(option), ptr)
	keep()
	if ret != 0 {
		return connErr(h, "set option")
	}
	return nil
}

/** Establish the server connection; empty strings select client defaults */
func mysql_real_connect(h MysqlHandle, host, user, password, database, socket string, port int) error {
	hostPtr, keepHost := cStringPtr(host)
	userPtr, keepUser := cStringPtr(user)
	passPtr, keepPass := cStringPtr(password)
	dbPtr, keepDb := cStringPtr(database)
	sockPtr, keepSock := cStringPtr(socket)
	ret := c_mysql_real_connect(unsafe.Pointer(h), hostPtr, userPtr, passPtr, dbPtr, uint32(port), sockPtr, 0)
	keepHost()
	keepUser()
	keepPass()
	keepDb()
	keepSock()
	if ret == nil {
		return connErr(h, "connect")
	}
	return nil
}

/** Check the server is alive */
func mysql_ping(h MysqlHandle) error {
	if c_mysql_ping(unsafe.Pointer(h)) != 0 {
		return connErr(h, "ping")
	}
	return nil
}

/** Close the connection and free the handle
 * SAFETY: caller must ensure no statement over this handle is used afterwards
 */
func mysql_close(h MysqlHandle) {
	if h == nil {
		return
	}
	c_mysql_close(unsafe.Pointer(h))
}

/** Diagnostic text for the last failed call on the handle */
func mysql_error(h MysqlHandle) string {
	return copyCString(c_mysql_error(unsafe.Pointer(h)))
}

/** Diagnostic code for the last failed call on the handle */
func mysql_errno(h MysqlHandle) uint32 {
	return c_mysql_errno(unsafe.Pointer(h))
}

/** Client library version string */
func mysql_get_client_info() string {
	return copyCString(c_mysql_get_client_info())
}

/** Allocate a prepared statement handle */
func mysql_stmt_init(h MysqlHandle) (MysqlStmt, error) {
	s := c_mysql_stmt_init(unsafe.Pointer(h))
	if s == nil {
		return nil, connErr(h, "statement init")
	}
	return MysqlStmt(s), nil
}

/** Prepare a statement from SQL text */
func mysql_stmt_prepare(s MysqlStmt, query string) error {
	if c_mysql_stmt_prepare(unsafe.Pointer(s), query, uint64(len(query))) != 0 {
		return stmtErr(s, "prepare")
	}
	return nil
}

/** Number of parameter markers in the prepared statement */
func mysql_stmt_param_count(s MysqlStmt) int {
	return int(c_mysql_stmt_param_count(unsafe.Pointer(s)))
}

/** Register the parameter bind array
 * The array is copied, but buffers it points to must stay valid through execute.
 */
func mysql_stmt_bind_param(s MysqlStmt, binds []c_mysql_bind_t) error {
	if len(binds) == 0 {
		return nil
	}
	failed := c_mysql_stmt_bind_param(unsafe.Pointer(s), unsafe.Pointer(&binds[0]))
	runtime.KeepAlive(binds)
	if failed {
		return stmtErr(s, "bind param")
	}
	return nil
}

/** Execute the prepared statement */
func mysql_stmt_execute(s MysqlStmt) error {
	if c_mysql_stmt_execute(unsafe.Pointer(s)) != 0 {
		return stmtErr(s, "execute")
	}
	return nil
}

/** Number of result columns; 0 for statements without a result set */
func mysql_stmt_field_count(s MysqlStmt) int {
	return int(c_mysql_stmt_field_count(unsafe.Pointer(s)))
}

/** Result metadata handle, or nil for statements without a result set
 * Must be released with mysql_free_result.
 */
func mysql_stmt_result_metadata(s MysqlStmt) MysqlRes {
	return MysqlRes(c_mysql_stmt_result_metadata(unsafe.Pointer(s)))
}

/** Register the result bind array
 * The array is copied, but the Buffer/Length/IsNull pointers inside are kept
 * and written on every fetch until the next registration.
 */
func mysql_stmt_bind_result(s MysqlStmt, binds []c_mysql_bind_t) error {
	if len(binds) == 0 {
		return nil
	}
	failed := c_mysql_stmt_bind_result(unsafe.Pointer(s), unsafe.Pointer(&binds[0]))
	runtime.KeepAlive(binds)
	if failed {
		return stmtErr(s, "bind result")
	}
	return nil
}

/** Fetch the next row into the registered binds
 * Returns 0, MYSQL_NO_DATA, MYSQL_DATA_TRUNCATED, or an error indicator.
 */
func mysql_stmt_fetch(s MysqlStmt) int32 {
	return c_mysql_stmt_fetch(unsafe.Pointer(s))
}

/** Fetch one column of the current row into bind */
func mysql_stmt_fetch_column(s MysqlStmt, bind *c_mysql_bind_t, column int, offset int) error {
	ret := c_mysql_stmt_fetch_column(unsafe.Pointer(s), unsafe.Pointer(bind), uint32(column), uint64(offset))
	runtime.KeepAlive(bind)
	if ret != 0 {
		return stmtErr(s, "fetch column")
	}
	return nil
}

/** Pull the whole result set to the client */
func mysql_stmt_store_result(s MysqlStmt) error {
	if c_mysql_stmt_store_result(unsafe.Pointer(s)) != 0 {
		return stmtErr(s, "store result")
	}
	return nil
}

/** Discard pending rows so the statement can be executed again */
func mysql_stmt_reset(s MysqlStmt) error {
	if c_mysql_stmt_reset(unsafe.Pointer(s)) {
		return stmtErr(s, "reset")
	}
	return nil
}

/** Release the statement's result set */
func mysql_stmt_free_result(s MysqlStmt) error {
	if c_mysql_stmt_free_result(unsafe.Pointer(s)) {
		return stmtErr(s, "free result")
	}
	return nil
}

/** Close the statement handle
 * SAFETY: caller must ensure no later call uses the closed handle
 */
func mysql_stmt_close(s MysqlStmt) error {
	if c_mysql_stmt_close(unsafe.Pointer(s)) {
		return errors.New("mysql: close statement failed")
	}
	return nil
}

/** Diagnostic text for the last failed call on the statement */
func mysql_stmt_error(s MysqlStmt) string {
	return copyCString(c_mysql_stmt_error(unsafe.Pointer(s)))
}

/** Diagnostic code for the last failed call on the statement */
func mysql_stmt_errno(s MysqlStmt) uint32 {
	return c_mysql_stmt_errno(unsafe.Pointer(s))
}

/** Column name from result metadata at index */
func mysql_field_name(res MysqlRes, index int) string {
	ptr := c_mysql_fetch_field_direct(unsafe.Pointer(res), uint32(index))
	if ptr == nil {
		return ""
	}
	f := (*c_mysql_field_t)(ptr)
	// f.Name holds a C pointer; reinterpret the field's storage rather than
	// converting the uintptr value, which vet's unsafeptr check rejects.
	return copyCString(*(*unsafe.Pointer)(unsafe.Pointer(&f.Name)))
}

/** Release a result metadata handle */
func mysql_free_result(res MysqlRes) {
	if res == nil {
		return
	}
	c_mysql_free_result(unsafe.Pointer(res))
}
