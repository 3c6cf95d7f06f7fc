package air

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/mklimuk/fanmon"
	"github.com/mklimuk/fanmon/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockI2CBus is a mock implementation of fanmon.I2CBus using testify/mock
type MockI2CBus struct {
	mock.Mock
	concurrentOps int64 // tracks concurrent operations
	maxConcurrent int64 // maximum concurrent operations observed
	mu            sync.Mutex
}

func (m *MockI2CBus) enter() {
	m.mu.Lock()
	concurrent := atomic.AddInt64(&m.concurrentOps, 1)
	if concurrent > atomic.LoadInt64(&m.maxConcurrent) {
		atomic.StoreInt64(&m.maxConcurrent, concurrent)
	}
	m.mu.Unlock()
}

func (m *MockI2CBus) leave() {
	atomic.AddInt64(&m.concurrentOps, -1)
}

func (m *MockI2CBus) WriteToAddr(ctx context.Context, address byte, buffer []byte) error {
	m.enter()
	defer m.leave()
	args := m.Called(ctx, address, buffer)
	return args.Error(0)
}

func (m *MockI2CBus) ReadFromAddr(ctx context.Context, address byte, buffer []byte) error {
	m.enter()
	defer m.leave()
	args := m.Called(ctx, address, buffer)
	if data, ok := args.Get(0).([]byte); ok && len(data) <= len(buffer) {
		copy(buffer, data)
	}
	return args.Error(1)
}

func (m *MockI2CBus) Release(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Helper to create a CRC terminated frame carrying value in bytes 1..3
func frame(status byte, value uint32) []byte {
	buf := []byte{status, byte(value >> 16), byte(value >> 8), byte(value), 0}
	buf[4] = checkCRC(buf[:4])
	return buf
}

func validTVOCResponse(ppb uint32) []byte {
	return frame(0x00, ppb)
}

func newTestSensor(bus fanmon.I2CBus, opts ...AGS02MAOpt) (*AGS02MA, *clock.Mock) {
	clk := clock.NewMock()
	opts = append([]AGS02MAOpt{WithClock(clk), WithTxDelay(0)}, opts...)
	return NewAGS02MA(bus, opts...), clk
}

func TestAGS02MA_CheckCRC(t *testing.T) {
	// datasheet example
	assert.Equal(t, byte(0x92), checkCRC([]byte{0xBE, 0xEF}))
}

func TestAGS02MA_QuietPeriod(t *testing.T) {
	bus := new(MockI2CBus)
	s, clk := newTestSensor(bus, WithReadDelay(1500*time.Millisecond))
	ctx := context.Background()

	bus.On("WriteToAddr", mock.Anything, byte(ags02maAddress), []byte{regTVOC}).Return(nil).Once()
	bus.On("ReadFromAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(validTVOCResponse(1200), nil).Once()

	v, err := s.GetTVOC(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1200), v)
	assert.True(t, s.Quiet())

	// no bus traffic is allowed while quiet
	_, err = s.GetTVOC(ctx)
	assert.ErrorIs(t, err, ErrQuiet)
	assert.ErrorIs(t, s.Configure(ctx), ErrQuiet)
	_, err = s.ReadVersion(ctx)
	assert.ErrorIs(t, err, ErrQuiet)

	clk.Add(1499 * time.Millisecond)
	_, err = s.ReadResistance(ctx)
	assert.ErrorIs(t, err, ErrQuiet)

	clk.Add(time.Millisecond)
	assert.False(t, s.Quiet())
	bus.On("WriteToAddr", mock.Anything, byte(ags02maAddress), []byte{regTVOC}).Return(nil).Once()
	bus.On("ReadFromAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(validTVOCResponse(1300), nil).Once()
	v, err = s.GetTVOC(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1300), v)

	bus.AssertExpectations(t)
}

func TestAGS02MA_ReadWhileQuietIsNotRepeated(t *testing.T) {
	bus := new(MockI2CBus)
	s, clk := newTestSensor(bus)
	ctx := context.Background()

	bus.On("WriteToAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(nil).Once()
	bus.On("ReadFromAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(validTVOCResponse(640), nil).Once()

	r, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, TVOC{PPB: 640, Valid: true}, r)

	clk.Add(100 * time.Millisecond)
	r, err = s.Read(ctx)
	assert.ErrorIs(t, err, ErrQuiet)
	assert.True(t, fanmon.IsSensorError(err))
	assert.Equal(t, TVOC{}, r)

	bus.AssertExpectations(t)
	bus.AssertNumberOfCalls(t, "ReadFromAddr", 1)
}

func TestAGS02MA_ReadWithoutPreviousValue(t *testing.T) {
	bus := new(MockI2CBus)
	s, _ := newTestSensor(bus)
	ctx := context.Background()

	bus.On("WriteToAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(nil).Once()
	require.NoError(t, s.Configure(ctx))

	_, err := s.Read(ctx)
	assert.ErrorIs(t, err, ErrQuiet)
	assert.True(t, fanmon.IsSensorError(err))
}

func TestAGS02MA_ErrorCases(t *testing.T) {
	busErr := errors.New("bus error")
	tests := []struct {
		name      string
		setupMock func(*MockI2CBus)
		call      func(context.Context, *AGS02MA) error
		expected  error
		message   string
	}{
		{
			name: "tvoc write fails",
			setupMock: func(bus *MockI2CBus) {
				bus.On("WriteToAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(busErr).Once()
			},
			call: func(ctx context.Context, s *AGS02MA) error {
				_, err := s.GetTVOCWithRegisterWrite(ctx)
				return err
			},
			expected: busErr,
			message:  "ags02ma: write reg",
		},
		{
			name: "tvoc read fails",
			setupMock: func(bus *MockI2CBus) {
				bus.On("WriteToAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(nil).Once()
				bus.On("ReadFromAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(nil, busErr).Once()
			},
			call: func(ctx context.Context, s *AGS02MA) error {
				_, err := s.GetTVOC(ctx)
				return err
			},
			expected: busErr,
			message:  "ags02ma: read failed",
		},
		{
			name: "tvoc not ready",
			setupMock: func(bus *MockI2CBus) {
				bus.On("WriteToAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(nil).Once()
				bus.On("ReadFromAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(frame(statusBitRDY, 0), nil).Once()
			},
			call: func(ctx context.Context, s *AGS02MA) error {
				_, err := s.GetTVOC(ctx)
				return err
			},
			expected: ErrNotReady,
		},
		{
			name: "tvoc crc mismatch",
			setupMock: func(bus *MockI2CBus) {
				data := validTVOCResponse(1000)
				data[4] ^= 0xFF
				bus.On("WriteToAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(nil).Once()
				bus.On("ReadFromAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(data, nil).Once()
			},
			call: func(ctx context.Context, s *AGS02MA) error {
				_, err := s.GetTVOC(ctx)
				return err
			},
			expected: fanmon.ErrInvalidData,
			message:  "ags02ma: crc mismatch",
		},
		{
			name: "direct read fails",
			setupMock: func(bus *MockI2CBus) {
				bus.On("ReadFromAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(nil, busErr).Once()
			},
			call: func(ctx context.Context, s *AGS02MA) error {
				_, err := s.GetTVOCDirectRead(ctx)
				return err
			},
			expected: busErr,
		},
		{
			name: "configure write fails",
			setupMock: func(bus *MockI2CBus) {
				bus.On("WriteToAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(busErr).Once()
			},
			call: func(ctx context.Context, s *AGS02MA) error {
				return s.Configure(ctx)
			},
			expected: busErr,
			message:  "ags02ma: configuration write failed",
		},
		{
			name: "version crc mismatch",
			setupMock: func(bus *MockI2CBus) {
				data := frame(0x00, 0x0B)
				data[3] = 0x0C
				bus.On("WriteToAddr", mock.Anything, byte(ags02maAddress), []byte{regVersion}).Return(nil).Once()
				bus.On("ReadFromAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(data, nil).Once()
			},
			call: func(ctx context.Context, s *AGS02MA) error {
				_, err := s.ReadVersion(ctx)
				return err
			},
			expected: fanmon.ErrInvalidData,
		},
		{
			name: "calibrate read fails",
			setupMock: func(bus *MockI2CBus) {
				bus.On("WriteToAddr", mock.Anything, byte(ags02maAddress), []byte{regCalibrate}).Return(nil).Once()
				bus.On("ReadFromAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(nil, busErr).Once()
			},
			call: func(ctx context.Context, s *AGS02MA) error {
				return s.Calibrate(ctx)
			},
			expected: busErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := new(MockI2CBus)
			s, _ := newTestSensor(bus)
			tt.setupMock(bus)

			err := tt.call(context.Background(), s)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.expected)
			if tt.message != "" {
				assert.Contains(t, err.Error(), tt.message)
			}
			// failures do not start a quiet period
			assert.False(t, s.Quiet())
			bus.AssertExpectations(t)
		})
	}
}

func TestAGS02MA_SuccessCases(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(*MockI2CBus)
		call      func(context.Context, *AGS02MA) (any, error)
		expected  any
		quiet     bool
	}{
		{
			name: "direct read",
			setupMock: func(bus *MockI2CBus) {
				bus.On("ReadFromAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(validTVOCResponse(1000), nil).Once()
			},
			call: func(ctx context.Context, s *AGS02MA) (any, error) {
				return s.GetTVOCDirectRead(ctx)
			},
			expected: uint32(1000),
			quiet:    true,
		},
		{
			name: "register write read",
			setupMock: func(bus *MockI2CBus) {
				bus.On("WriteToAddr", mock.Anything, byte(ags02maAddress), []byte{regTVOC}).Return(nil).Once()
				bus.On("ReadFromAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(validTVOCResponse(0x012345), nil).Once()
			},
			call: func(ctx context.Context, s *AGS02MA) (any, error) {
				return s.GetTVOCWithRegisterWrite(ctx)
			},
			expected: uint32(0x012345),
			quiet:    true,
		},
		{
			name: "version",
			setupMock: func(bus *MockI2CBus) {
				bus.On("WriteToAddr", mock.Anything, byte(ags02maAddress), []byte{regVersion}).Return(nil).Once()
				bus.On("ReadFromAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(frame(0x00, 118), nil).Once()
			},
			call: func(ctx context.Context, s *AGS02MA) (any, error) {
				return s.ReadVersion(ctx)
			},
			expected: 118,
		},
		{
			name: "resistance",
			setupMock: func(bus *MockI2CBus) {
				bus.On("WriteToAddr", mock.Anything, byte(ags02maAddress), []byte{regResistance}).Return(nil).Once()
				bus.On("ReadFromAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(frame(0x00, 100), nil).Once()
			},
			call: func(ctx context.Context, s *AGS02MA) (any, error) {
				return s.ReadResistance(ctx)
			},
			expected: 100,
			quiet:    true,
		},
		{
			name: "configure",
			setupMock: func(bus *MockI2CBus) {
				bus.On("WriteToAddr", mock.Anything, byte(ags02maAddress), []byte{regTVOC, 0x00, 0xFF, 0x00, 0xFF, 0x30}).Return(nil).Once()
			},
			call: func(ctx context.Context, s *AGS02MA) (any, error) {
				return nil, s.Configure(ctx)
			},
			quiet: true,
		},
		{
			name: "calibrate",
			setupMock: func(bus *MockI2CBus) {
				bus.On("WriteToAddr", mock.Anything, byte(ags02maAddress), []byte{regCalibrate}).Return(nil).Once()
				bus.On("ReadFromAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(frame(0x00, 0), nil).Once()
			},
			call: func(ctx context.Context, s *AGS02MA) (any, error) {
				return nil, s.Calibrate(ctx)
			},
			quiet: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := new(MockI2CBus)
			s, _ := newTestSensor(bus)
			tt.setupMock(bus)

			res, err := tt.call(context.Background(), s)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, res)
			assert.Equal(t, tt.quiet, s.Quiet())
			bus.AssertExpectations(t)
		})
	}
}

func TestAGS02MA_TVOCMode(t *testing.T) {
	bus := new(MockI2CBus)
	s, _ := newTestSensor(bus, WithTVOCMode(TVOCModeDirectRead))
	bus.On("ReadFromAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(validTVOCResponse(5), nil).Once()

	v, err := s.GetTVOC(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(5), v)
	bus.AssertNotCalled(t, "WriteToAddr", mock.Anything, mock.Anything, mock.Anything)
}

func TestAGS02MA_ConfigureHold(t *testing.T) {
	bus := new(MockI2CBus)
	s, clk := newTestSensor(bus, WithConfigureDelay(2*time.Second), WithReadDelay(time.Second))
	ctx := context.Background()
	bus.On("WriteToAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(nil)
	bus.On("ReadFromAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(validTVOCResponse(7), nil)

	require.NoError(t, s.Configure(ctx))
	clk.Add(time.Second)
	_, err := s.GetTVOC(ctx)
	assert.ErrorIs(t, err, ErrQuiet)
	clk.Add(time.Second)
	_, err = s.GetTVOC(ctx)
	assert.NoError(t, err)
}

func TestAGS02MA_IsConnected(t *testing.T) {
	bus := new(MockI2CBus)
	s, _ := newTestSensor(bus)
	ctx := context.Background()

	bus.On("ReadFromAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(nil, errors.New("nack")).Once()
	assert.False(t, s.IsConnected(ctx))

	bus.On("WriteToAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(nil).Once()
	require.NoError(t, s.Configure(ctx))
	// answered while quiet without touching the bus
	assert.True(t, s.IsConnected(ctx))
	bus.AssertExpectations(t)
}

func TestAGS02MA_ContextCancellation(t *testing.T) {
	bus := new(MockI2CBus)
	s := NewAGS02MA(bus, WithClock(clock.NewMock()), WithTxDelay(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	bus.On("WriteToAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(nil).Once()

	cancel()
	_, err := s.ReadVersion(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	bus.AssertNotCalled(t, "ReadFromAddr", mock.Anything, mock.Anything, mock.Anything)
}

func TestAGS02MA_ConcurrentOperations(t *testing.T) {
	bus := new(MockI2CBus)
	s, _ := newTestSensor(bus, WithReadDelay(0))
	bus.On("WriteToAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(nil)
	bus.On("ReadFromAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(validTVOCResponse(10), nil)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.GetTVOC(context.Background())
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), atomic.LoadInt64(&bus.maxConcurrent), "bus operations must not overlap")
}

func TestAGS02MA_Descriptor(t *testing.T) {
	d := AGS02MADescriptor()
	assert.Equal(t, []byte{ags02maAddress}, d.Addresses)
	assert.Equal(t, MeasurementAirQuality, d.Measurement)

	bus := new(MockI2CBus)
	s, _ := newTestSensor(bus)
	bus.On("WriteToAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(nil)
	bus.On("ReadFromAddr", mock.Anything, byte(ags02maAddress), mock.Anything).Return(validTVOCResponse(321), nil)
	inst := sensor.Adapt(sensor.Info{TypeName: d.TypeName, Measurement: d.Measurement, Address: ags02maAddress}, sensor.Driver[TVOC](s), FormatTVOC)
	f, err := inst.ReadFields(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sensor.Fields{"tvoc_ppb": 321.0}, f)
}
