//go:build !unix

package socket

// Stub implementation for platforms without the poll-based worker. Every
// operation fails with ENOSYS; the portable surface still compiles.

func closeFD(int) {}

func applyFlags(int, Flags, Flags) Error   { return ENOSYS }
func applyBufferSizes(int, int, int) Error { return ENOSYS }

func (s *Socket) Read(buf []byte) (int, error) { return -1, ENOSYS }

func (s *Socket) Peek(buf []byte) (int, error) { return -1, ENOSYS }

func (s *Socket) Write(buf []byte) (int, error) { return -1, ENOSYS }

func (s *Socket) Listen(Family, int) error { return ENOSYS }
func (s *Socket) Accept() (*Socket, error) { return nil, ENOSYS }
func (s *Socket) LocalPort() (int, error)  { return -1, ENOSYS }

func (w *worker) initWake() Error { return ENOSYS }
func (w *worker) writeWake()      {}
func (w *worker) sendEvents()     {}
func (w *worker) loop()           {}
