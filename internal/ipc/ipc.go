package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"runtime"
)

const unixSocketPath = "/tmp/veil-wallet.sock"
const windowsSocketPort = ":7071" // You can change the port if needed

var commandID int
var osType = runtime.GOOS // Get the operating system type

func generateCommandID() int {
	commandID++
	return commandID
}

func NewServer() (*Server, error) {
	var listener net.Listener
	var err error

	if osType == "windows" {
		// On Windows, use TCP socket
		listener, err = net.Listen("tcp", windowsSocketPort)
	} else {
		// On Unix-like systems, use Unix socket
		// Check if the Unix socket file already exists
		if _, err := os.Stat(unixSocketPath); err == nil {
			// Remove existing Unix socket file
			err = os.Remove(unixSocketPath)
			if err != nil {
				return nil, fmt.Errorf("failed to remove existing socket file: %v", err)
			}
		}
		listener, err = net.Listen("unix", unixSocketPath)
	}

	if err != nil {
		return nil, err
	}

	server := &Server{
		listener:    listener,
		commands:    make(chan Command),
		connections: make(map[int]net.Conn),
		subscribers: make(map[net.Conn]bool),
	}

	go server.accept()

	return server, nil
}

func (s *Server) accept() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			continue
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		s.RemoveSubscriber(conn)
		conn.Close()
	}()

	// Add connection as subscriber for status updates
	s.AddSubscriber(conn)

	// Stream-decode frames off the connection; a command may span
	// several reads or share a read with other frames.
	decoder := json.NewDecoder(conn)
	for {
		var cmd Command
		if err := decoder.Decode(&cmd); err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				log.Printf("Failed to decode message: %v", err)
			}
			return
		}

		// Frames without an ID are not commands
		if cmd.ID == 0 {
			continue
		}

		// Store the connection with the command ID for response
		s.mutex.Lock()
		s.connections[cmd.ID] = conn
		s.mutex.Unlock()

		s.commands <- cmd
	}
}

func (s *Server) Commands() <-chan Command {
	return s.commands
}

func (s *Server) SendResponse(id int, response Response) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	conn, exists := s.connections[id]
	if !exists {
		log.Printf("Connection for command ID %d not found", id)
		return
	}

	responseData, err := json.Marshal(response)
	if err != nil {
		log.Printf("Error marshaling response for command ID %d: %v", id, err)
		return
	}

	_, err = conn.Write(responseData)
	if err != nil {
		log.Printf("Error writing response for command ID %d: %v", id, err)
		return
	}

	// Close the connection after sending the response
	conn.Close()
	delete(s.connections, id)
}

// BroadcastStatus pushes a session status update to all subscribed
// clients.
func (s *Server) BroadcastStatus(update StatusUpdate) {
	data, err := json.Marshal(update)
	if err != nil {
		log.Printf("Failed to marshal status update: %v", err)
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	for conn := range s.subscribers {
		_, err := conn.Write(data)
		if err != nil {
			log.Printf("Failed to send status update: %v", err)
			// Remove failed connection from subscribers
			delete(s.subscribers, conn)
		}
	}
}

func (s *Server) AddSubscriber(conn net.Conn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.subscribers[conn] = true
}

func (s *Server) RemoveSubscriber(conn net.Conn) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.subscribers, conn)
}

func (s *Server) Close() error {
	return s.listener.Close()
}

func NewClient() (*Client, error) {
	var conn net.Conn
	var err error

	if osType == "windows" {
		conn, err = net.Dial("tcp", windowsSocketPort)
	} else {
		conn, err = net.Dial("unix", unixSocketPath)
	}

	if err != nil {
		return nil, err
	}

	return &Client{conn: conn}, nil
}

func (c *Client) SendCommand(command string, args []string) (interface{}, error) {
	cmd := Command{
		ID:      generateCommandID(),
		Command: command,
		Args:    args,
	}

	cmdData, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("error marshaling command: %v", err)
	}

	_, err = c.conn.Write(cmdData)
	if err != nil {
		return nil, fmt.Errorf("error writing command to connection: %v", err)
	}

	// Status broadcasts share the connection, so skip frames that do
	// not answer this command.
	decoder := json.NewDecoder(c.conn)
	for {
		var response Response
		if err := decoder.Decode(&response); err != nil {
			return nil, fmt.Errorf("error reading response from connection: %v", err)
		}
		if response.ID != cmd.ID {
			continue
		}

		if response.Error != "" {
			return nil, errors.New(response.Error)
		}
		return response.Result, nil
	}
}

func (c *Client) Close() error {
	return c.conn.Close()
}
